package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/internal/detection"
)

var (
	classesNames []string
	classesLimit int
	classesJSON  bool
)

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "Show detection counts per class, most frequent first",
	RunE:  runClasses,
}

func init() {
	classesCmd.Flags().StringSliceVar(&classesNames, "class", nil, "Only count these classes (repeatable)")
	classesCmd.Flags().IntVar(&classesLimit, "limit", 20, "Maximum number of classes to show")
	classesCmd.Flags().BoolVar(&classesJSON, "json", false, "Output as JSON")
}

func runClasses(cmd *cobra.Command, args []string) error {
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

	report, err := a.detector.ClassFrequency(ctx, classesNames, classesLimit)
	if err != nil {
		return err
	}

	if classesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printClasses(report)
	return nil
}

func printClasses(report *detection.ClassFrequencyReport) {
	if report.TotalDetections == 0 {
		pterm.Info.Println("No detections recorded")
		return
	}

	data := pterm.TableData{{"Class", "Detections", "Last seen"}}
	for _, item := range report.Items {
		data = append(data, []string{
			item.ClassName,
			fmt.Sprintf("%d", item.Detections),
			item.LastSeen.Local().Format("2006-01-02 15:04:05"),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	pterm.Info.Printf("%d detections across %d classes\n", report.TotalDetections, report.TotalClasses)
}
