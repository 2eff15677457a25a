package detection

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visionflow/visionflow/internal/ai"
)

// Normalize converts raw engine output into a Result. Detections whose class
// name is not in allowList (case-insensitive) are dropped; an empty or blank
// allowList keeps everything. elapsed is reported as ProcessingMs.
func Normalize(raw ai.RawOutput, allowList []string, elapsed time.Duration, img ai.Image) *Result {
	selected, members := normalizeAllowList(allowList)

	detections := make([]Detection, 0, len(raw.Detections))
	seen := make(map[string]struct{})
	for _, rd := range raw.Detections {
		name := className(raw.Names, rd.ClassID)
		if len(members) > 0 {
			if _, ok := members[strings.ToLower(name)]; !ok {
				continue
			}
		}

		detections = append(detections, Detection{
			DetectionID: uuid.NewString(),
			ClassID:     rd.ClassID,
			ClassName:   name,
			Confidence:  finite(rd.Confidence),
			BBox: BoundingBox{
				XMin: finite(rd.Box[0]),
				YMin: finite(rd.Box[1]),
				XMax: finite(rd.Box[2]),
				YMax: finite(rd.Box[3]),
			},
		})
		seen[name] = struct{}{}
	}

	detected := make([]string, 0, len(seen))
	for name := range seen {
		detected = append(detected, name)
	}
	sort.Strings(detected)

	return &Result{
		Metadata: Metadata{
			Width:       img.Width,
			Height:      img.Height,
			Channels:    img.Channels,
			ProcessedAt: time.Now().UTC(),
		},
		Summary: Summary{
			TotalDetections: len(detections),
			DetectedClasses: detected,
			SelectedClasses: selected,
			ProcessingMs:    float64(elapsed.Nanoseconds()) / 1e6,
		},
		Payload: Payload{Detections: detections},
	}
}

// normalizeAllowList trims names, drops blanks and exact duplicates, and
// returns them with a lower-cased membership set
func normalizeAllowList(allowList []string) ([]string, map[string]struct{}) {
	selected := make([]string, 0, len(allowList))
	members := make(map[string]struct{}, len(allowList))
	exact := make(map[string]struct{}, len(allowList))
	for _, name := range allowList {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := exact[name]; dup {
			continue
		}
		exact[name] = struct{}{}
		selected = append(selected, name)
		members[strings.ToLower(name)] = struct{}{}
	}
	return selected, members
}

// finite maps NaN and ±Inf to 0 so results always encode as JSON
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func className(names map[int]string, id int) string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", id)
}
