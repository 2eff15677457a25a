package ai

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	assert.Equal(t, 2100, anchorCount(320))
}

// buildOutput lays out columns of [cx, cy, w, h, scores...] the way the
// detection head does (attribute-major)
func buildOutput(numClasses int, columns [][]float32) []float32 {
	numAnchors := len(columns)
	out := make([]float32, (4+numClasses)*numAnchors)
	for i, col := range columns {
		for attr, v := range col {
			out[attr*numAnchors+i] = v
		}
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	output := buildOutput(2, [][]float32{
		{100, 100, 20, 40, 0.1, 0.9},
		{50, 50, 10, 10, 0.2, 0.1},
		{300, 200, 60, 60, 0.8, 0.3},
	})

	dets := decodeOutput(output, 2, 3, 0.25, 2, 0.5)
	require.Len(t, dets, 2)

	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, [4]float64{180, 40, 220, 60}, dets[0].Box)

	assert.Equal(t, 0, dets[1].ClassID)
	assert.Equal(t, [4]float64{540, 85, 660, 115}, dets[1].Box)
}

func TestDecodeOutput_ShortBuffer(t *testing.T) {
	assert.Nil(t, decodeOutput(make([]float32, 5), 2, 3, 0.25, 1, 1))
	assert.Nil(t, decodeOutput(nil, 0, 0, 0.25, 1, 1))
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []RawDetection{
		{ClassID: 0, Confidence: 0.6, Box: [4]float64{0, 0, 10, 10}},
		{ClassID: 0, Confidence: 0.9, Box: [4]float64{1, 1, 11, 11}},
		{ClassID: 1, Confidence: 0.8, Box: [4]float64{1, 1, 11, 11}},
		{ClassID: 0, Confidence: 0.7, Box: [4]float64{50, 50, 60, 60}},
	}

	kept := nonMaxSuppression(dets, 0.5)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].Confidence, 1e-9)
	assert.Equal(t, 1, kept[1].ClassID)
	assert.Equal(t, [4]float64{50, 50, 60, 60}, kept[2].Box)
}

func TestIOU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float64{0, 0, 10, 10}, [4]float64{0, 0, 10, 10}), 1e-9)
	assert.InDelta(t, 0.0, iou([4]float64{0, 0, 10, 10}, [4]float64{20, 20, 30, 30}), 1e-9)
	assert.InDelta(t, 25.0/175.0, iou([4]float64{0, 0, 10, 10}, [4]float64{5, 5, 15, 15}), 1e-9)
	assert.Equal(t, 0.0, iou([4]float64{0, 0, 0, 0}, [4]float64{0, 0, 0, 0}))
}

func TestClipBox(t *testing.T) {
	got := clipBox([4]float64{-5, 10, 700, math.Inf(1)}, 640, 480)
	assert.Equal(t, [4]float64{0, 10, 640, 480}, got)
}

func TestFillInput(t *testing.T) {
	pic := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	pic.Set(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	pic.Set(1, 0, color.NRGBA{R: 0, G: 102, B: 0, A: 255})

	dst := make([]float32, 6)
	fillInput(pic, dst)

	assert.InDeltaSlice(t, []float32{1, 0, 0, 0.4, 0.2, 0}, dst, 1e-6)
}

func TestClassNames(t *testing.T) {
	coco := ClassNames(nil)
	assert.Len(t, coco, 80)
	assert.Equal(t, "person", coco[0])
	assert.Equal(t, "toothbrush", coco[79])

	custom := ClassNames([]string{"helmet", "vest"})
	assert.Equal(t, map[int]string{0: "helmet", 1: "vest"}, custom)
}
