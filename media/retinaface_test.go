package media

import (
	"math"
	"testing"
)

func TestGenerateRetinaFacePriors(t *testing.T) {
	priors := GenerateRetinaFacePriors(640, 640)

	// two anchors per cell over 80x80, 40x40, and 20x20 feature maps
	want := (80*80 + 40*40 + 20*20) * 2
	if len(priors) != want {
		t.Fatalf("len(priors) = %d, want %d", len(priors), want)
	}

	first := priors[0]
	if !almostEqual(first.Cx, 0.5*8/640) || !almostEqual(first.Cy, 0.5*8/640) {
		t.Errorf("first prior center = (%v, %v), want (%v, %v)", first.Cx, first.Cy, 0.5*8/640, 0.5*8/640)
	}
	if !almostEqual(first.W, 16.0/640) || !almostEqual(first.H, 16.0/640) {
		t.Errorf("first prior size = (%v, %v), want 16/640", first.W, first.H)
	}
}

func TestDecodeBoxZeroOffsets(t *testing.T) {
	prior := PriorBox{Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.4}
	decoded := DecodeBox([4]float32{0, 0, 0, 0}, prior, [2]float32{0.1, 0.2})

	want := [4]float32{0.4, 0.3, 0.6, 0.7}
	for i := range want {
		if !almostEqual(decoded[i], want[i]) {
			t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], want[i])
		}
	}
}

func TestDecodeBoxScalesByVariance(t *testing.T) {
	prior := PriorBox{Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.2}
	variances := [2]float32{0.1, 0.2}
	decoded := DecodeBox([4]float32{1, 0, 0, 0}, prior, variances)

	// dx of 1 shifts the center by variance0 * prior width
	wantCx := float32(0.5 + 1*0.1*0.2)
	gotCx := (decoded[0] + decoded[2]) / 2
	if !almostEqual(gotCx, wantCx) {
		t.Errorf("decoded center x = %v, want %v", gotCx, wantCx)
	}
}

func TestDecodeLandmarksZeroOffsets(t *testing.T) {
	prior := PriorBox{Cx: 0.3, Cy: 0.6, W: 0.1, H: 0.1}
	pts := DecodeLandmarks([10]float32{}, prior, [2]float32{0.1, 0.2})

	for i, p := range pts {
		if !almostEqual(p.X, prior.Cx) || !almostEqual(p.Y, prior.Cy) {
			t.Errorf("landmark %d = (%v, %v), want prior center (%v, %v)", i, p.X, p.Y, prior.Cx, prior.Cy)
		}
	}
}

func TestDecodeDetectionsThresholdAndGeometry(t *testing.T) {
	priors := []PriorBox{
		{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25},
		{Cx: 0.2, Cy: 0.2, W: 0.1, H: 0.1},
	}
	boxes := make([]float32, 8)      // zero offsets: boxes equal their priors
	landmarks := make([]float32, 20) // zero offsets: landmarks at prior centers
	scores := []float32{
		0.1, 0.9, // detection 0: face score 0.9
		0.7, 0.3, // detection 1: face score 0.3, below threshold
	}

	dets := decodeDetections(boxes, scores, landmarks, 2, priors, 640, 640, 0.5)
	if len(dets) != 1 {
		t.Fatalf("len(dets) = %d, want 1", len(dets))
	}

	det := dets[0]
	if det.X != 240 || det.Y != 240 || det.W != 160 || det.H != 160 {
		t.Errorf("box = [%d %d %d %d], want [240 240 160 160]", det.X, det.Y, det.W, det.H)
	}
	if det.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", det.Confidence)
	}
	if len(det.Landmarks) != 5 {
		t.Fatalf("len(landmarks) = %d, want 5", len(det.Landmarks))
	}
	for i, p := range det.Landmarks {
		if !almostEqual(p.X, 320) || !almostEqual(p.Y, 320) {
			t.Errorf("landmark %d = (%v, %v), want (320, 320)", i, p.X, p.Y)
		}
	}
	if det.QualityScore == nil {
		t.Fatal("quality score is nil")
	}
	// confidence x relative face area x 100
	wantQuality := float32(0.9 * 0.0625 * 100)
	if !almostEqual(*det.QualityScore, wantQuality) {
		t.Errorf("quality score = %v, want %v", *det.QualityScore, wantQuality)
	}
}

func TestDecodeDetectionsPriorMismatch(t *testing.T) {
	priors := []PriorBox{{Cx: 0.5, Cy: 0.5, W: 0.25, H: 0.25}}
	if dets := decodeDetections(make([]float32, 8), make([]float32, 4), make([]float32, 20), 2, priors, 640, 640, 0.5); dets != nil {
		t.Errorf("mismatched prior count produced %d detections, want none", len(dets))
	}
}

func TestSetConfidenceThreshold(t *testing.T) {
	// the detector is shared across lanes and its threshold is swapped by
	// config reload; the setter must take effect on subsequent frames
	d := &RetinaFaceDetector{ConfThreshold: 0.5}
	d.SetConfidenceThreshold(0.95)

	d.mu.Lock()
	got := d.ConfThreshold
	d.mu.Unlock()
	if got != 0.95 {
		t.Errorf("ConfThreshold after set = %v, want 0.95", got)
	}
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []DetectionResult{
		{X: 100, Y: 100, W: 100, H: 100, Confidence: 0.8},
		{X: 110, Y: 110, W: 100, H: 100, Confidence: 0.95}, // overlaps the first
		{X: 400, Y: 400, W: 80, H: 80, Confidence: 0.7},    // disjoint
	}

	kept := nonMaxSuppression(dets, 0.5)
	if len(kept) != 2 {
		t.Fatalf("len(kept) = %d, want 2", len(kept))
	}
	if kept[0].Confidence != 0.95 {
		t.Errorf("kept[0].Confidence = %v, want the highest scoring box first", kept[0].Confidence)
	}
	if kept[1].X != 400 {
		t.Errorf("kept[1] = %+v, want the disjoint box", kept[1])
	}
}

func TestCalculateIoU(t *testing.T) {
	a := DetectionResult{X: 0, Y: 0, W: 100, H: 100}
	if got := calculateIoU(a, a); !almostEqual(got, 1.0) {
		t.Errorf("IoU(a, a) = %v, want 1.0", got)
	}

	b := DetectionResult{X: 200, Y: 200, W: 50, H: 50}
	if got := calculateIoU(a, b); got != 0 {
		t.Errorf("IoU of disjoint boxes = %v, want 0", got)
	}

	c := DetectionResult{X: 50, Y: 0, W: 100, H: 100}
	// intersection 50x100, union 15000
	if got := calculateIoU(a, c); !almostEqual(got, 5000.0/15000.0) {
		t.Errorf("IoU = %v, want %v", got, 5000.0/15000.0)
	}
}

func TestPaddedRectClampsToFrame(t *testing.T) {
	det := DetectionResult{X: 10, Y: 10, W: 100, H: 100}
	rect := paddedRect(det, 640, 480)
	if rect.Min.X != 0 || rect.Min.Y != 0 {
		t.Errorf("rect.Min = %v, want clamped to origin", rect.Min)
	}
	if rect.Max.X != 135 || rect.Max.Y != 135 {
		t.Errorf("rect.Max = %v, want (135, 135)", rect.Max)
	}

	outside := DetectionResult{X: 700, Y: 500, W: 50, H: 50}
	if got := paddedRect(outside, 640, 480); !got.Empty() {
		t.Errorf("paddedRect outside the frame = %v, want empty", got)
	}
}

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}
