package ai

import (
	"math"
	"sort"
)

// anchorCount returns the number of prediction columns a YOLOv8/YOLO11 head
// emits for a square input of the given size (strides 8, 16 and 32)
func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// decodeOutput reads a (4+numClasses, numAnchors) row-major output where
// each column is [cx, cy, w, h, score_0 ... score_n] in model-input pixels.
// Boxes scoring below threshold are dropped and the rest are scaled to the
// source image by scaleX and scaleY.
func decodeOutput(output []float32, numClasses, numAnchors int, threshold, scaleX, scaleY float64) []RawDetection {
	if numClasses <= 0 || numAnchors <= 0 || len(output) < (4+numClasses)*numAnchors {
		return nil
	}

	detections := make([]RawDetection, 0, 64)
	for i := 0; i < numAnchors; i++ {
		classID, best := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if score := output[(4+c)*numAnchors+i]; score > best {
				best = score
				classID = c
			}
		}
		if classID < 0 || float64(best) < threshold {
			continue
		}

		cx := float64(output[i])
		cy := float64(output[numAnchors+i])
		w := float64(output[2*numAnchors+i])
		h := float64(output[3*numAnchors+i])

		detections = append(detections, RawDetection{
			ClassID:    classID,
			Confidence: float64(best),
			Box: [4]float64{
				(cx - w/2) * scaleX,
				(cy - h/2) * scaleY,
				(cx + w/2) * scaleX,
				(cy + h/2) * scaleY,
			},
		})
	}
	return detections
}

// nonMaxSuppression keeps the highest-scoring box of every overlapping group
// of the same class. The result is ordered by descending confidence.
func nonMaxSuppression(detections []RawDetection, iouThreshold float64) []RawDetection {
	if len(detections) == 0 {
		return detections
	}

	boxes := make([]RawDetection, len(detections))
	copy(boxes, detections)
	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})

	suppressed := make([]bool, len(boxes))
	kept := make([]RawDetection, 0, len(boxes))
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].ClassID != boxes[i].ClassID {
				continue
			}
			if iou(boxes[i].Box, boxes[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou computes the intersection-over-union of two corner-form boxes
func iou(a, b [4]float64) float64 {
	x1 := math.Max(a[0], b[0])
	y1 := math.Max(a[1], b[1])
	x2 := math.Min(a[2], b[2])
	y2 := math.Min(a[3], b[3])

	inter := math.Max(0, x2-x1) * math.Max(0, y2-y1)
	areaA := math.Max(0, a[2]-a[0]) * math.Max(0, a[3]-a[1])
	areaB := math.Max(0, b[2]-b[0]) * math.Max(0, b[3]-b[1])

	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// clipBox limits a box to the image bounds
func clipBox(box [4]float64, width, height int) [4]float64 {
	w, h := float64(width), float64(height)
	return [4]float64{
		math.Min(math.Max(box[0], 0), w),
		math.Min(math.Max(box[1], 0), h),
		math.Min(math.Max(box[2], 0), w),
		math.Min(math.Max(box[3], 0), h),
	}
}
