package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/internal/detection"
)

var (
	historyPage     int
	historyPageSize int
	historyClass    string
	historyJSON     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored detection results, newest first",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "Page number (1-indexed)")
	historyCmd.Flags().IntVar(&historyPageSize, "page-size", 10, "Records per page")
	historyCmd.Flags().StringVar(&historyClass, "class", "", "Only records containing this class")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log = cliLogger(cfg, log)
	defer log.Sync()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	page, err := a.detector.ListHistory(ctx, historyPage, historyPageSize, historyClass)
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	printHistory(page)
	return nil
}

func printHistory(page *detection.HistoryPage) {
	if page.Total == 0 {
		pterm.Info.Println("No detection records found")
		return
	}

	data := pterm.TableData{{"ID", "Created", "Source", "Detections", "Classes"}}
	for _, rec := range page.Items {
		source := "-"
		if rec.SourceName != nil {
			source = *rec.SourceName
		}
		data = append(data, []string{
			rec.ID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			source,
			fmt.Sprintf("%d", rec.Summary.TotalDetections),
			strings.Join(rec.Summary.DetectedClasses, ", "),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Info.Printf("Page %d of %d (%d records)\n", page.Page, page.Pages, page.Total)
}
