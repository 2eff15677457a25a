package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/internal/detection"
	"github.com/visionflow/visionflow/internal/imageio"
)

var (
	detectClasses []string
	detectJSON    bool
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Run object detection on an image file",
	Long: `Run object detection on an image file and store the result in the
detection history. --classes restricts the reported detections to the given
class names (case-insensitive).`,
	Args: cobra.ExactArgs(1),
	RunE: runDetect,
}

func init() {
	detectCmd.Flags().StringSliceVar(&detectClasses, "classes", nil, "Only report these classes (comma-separated)")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Output as JSON")
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	log = cliLogger(cfg, log)
	defer log.Sync()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	img, err := imageio.Decode(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), data)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	source := filepath.Base(path)
	result, err := a.detector.RunDetection(ctx, img, detectClasses, &source)
	if err != nil {
		return err
	}

	if detectJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printResult(source, result)
	return nil
}

func printResult(source string, result *detection.Result) {
	pterm.DefaultSection.Println(source)
	pterm.Info.Printf("%dx%d, %d channel(s), %.1f ms\n",
		result.Metadata.Width, result.Metadata.Height, result.Metadata.Channels, result.Summary.ProcessingMs)

	if result.Summary.TotalDetections == 0 {
		pterm.Warning.Println("No objects detected")
		return
	}

	data := pterm.TableData{{"Class", "Confidence", "Box (x1, y1, x2, y2)"}}
	for _, d := range result.Payload.Detections {
		data = append(data, []string{
			d.ClassName,
			fmt.Sprintf("%.2f", d.Confidence),
			fmt.Sprintf("%.0f, %.0f, %.0f, %.0f", d.BBox.XMin, d.BBox.YMin, d.BBox.XMax, d.BBox.YMax),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(data).Render()

	pterm.Success.Printf("%d detection(s): %s\n",
		result.Summary.TotalDetections, strings.Join(result.Summary.DetectedClasses, ", "))
}
