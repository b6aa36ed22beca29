package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// RetinaFace prior box generation and box decoding utilities

// PriorBox defines an anchor box (center_x, center_y, width, height)
type PriorBox struct {
	Cx, Cy, W, H float32
}

// GenerateRetinaFacePriors generates priors for the RetinaFace input size
func GenerateRetinaFacePriors(imgW, imgH int) []PriorBox {
	// These settings match the standard RetinaFace/ONNX config
	minSizes := [][]int{{16, 32}, {64, 128}, {256, 512}}
	steps := []int{8, 16, 32}
	featureMapSizes := [][]int{
		{imgH / 8, imgW / 8},
		{imgH / 16, imgW / 16},
		{imgH / 32, imgW / 32},
	}
	priors := []PriorBox{}
	for k, fms := range featureMapSizes {
		fmH, fmW := fms[0], fms[1]
		for i := 0; i < fmH; i++ {
			for j := 0; j < fmW; j++ {
				for _, minSize := range minSizes[k] {
					cx := (float32(j) + 0.5) * float32(steps[k]) / float32(imgW)
					cy := (float32(i) + 0.5) * float32(steps[k]) / float32(imgH)
					w := float32(minSize) / float32(imgW)
					h := float32(minSize) / float32(imgH)
					priors = append(priors, PriorBox{Cx: cx, Cy: cy, W: w, H: h})
				}
			}
		}
	}
	return priors
}

// DecodeBox decodes a single box prediction using the prior and variances
func DecodeBox(rawBox [4]float32, prior PriorBox, variances [2]float32) [4]float32 {
	// rawBox: [dx, dy, dw, dh]
	cx := prior.Cx + rawBox[0]*variances[0]*prior.W
	cy := prior.Cy + rawBox[1]*variances[0]*prior.H
	w := prior.W * float32Exp(rawBox[2]*variances[1])
	h := prior.H * float32Exp(rawBox[3]*variances[1])
	// Convert center to corner
	x1 := cx - w/2
	y1 := cy - h/2
	x2 := cx + w/2
	y2 := cy + h/2
	return [4]float32{x1, y1, x2, y2}
}

// DecodeLandmarks decodes the five prior-encoded landmark points
func DecodeLandmarks(raw [10]float32, prior PriorBox, variances [2]float32) [5]Point2D {
	var pts [5]Point2D
	for i := 0; i < 5; i++ {
		pts[i] = Point2D{
			X: prior.Cx + raw[i*2]*variances[0]*prior.W,
			Y: prior.Cy + raw[i*2+1]*variances[0]*prior.H,
		}
	}
	return pts
}

// float32Exp is a helper for float32 exponentiation
func float32Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// RetinaFaceDetector provides face detection with five-point landmarks.
// A single instance is shared by all camera lanes; forward passes are
// serialized because OpenCV networks are not safe for concurrent use.
type RetinaFaceDetector struct {
	mu      sync.Mutex
	Net     gocv.Net
	Enabled bool

	// Configuration parameters
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32
	IoUThreshold  float32

	priors []PriorBox
}

// NewRetinaFaceDetector loads the RetinaFace model
func NewRetinaFaceDetector(modelPath string, confThreshold float32) (*RetinaFaceDetector, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("detection(retinaface): model path is empty")
	}

	log.Printf("detection(retinaface): loading model: %s", modelPath)

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("detection(retinaface): ReadNet returned an empty network for %s", modelPath)
	}

	// Try to use CUDA if available
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("detection(retinaface): Set backend/target to CUDA")
	} else {
		if cudaBackendErr != nil {
			log.Printf("detection(retinaface): CUDA Backend not available: %v. Using default backend.", cudaBackendErr)
		}
		if cudaTargetErr != nil {
			log.Printf("detection(retinaface): CUDA Target not available: %v. Using default target.", cudaTargetErr)
		}

		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("detection(retinaface): Set backend/target to CPU (Default)")
	}

	const inputW, inputH = 640, 640

	return &RetinaFaceDetector{
		Net:           net,
		Enabled:       true,
		InputSizeW:    inputW,
		InputSizeH:    inputH,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 117.0, 123.0, 0),
		ConfThreshold: confThreshold,
		IoUThreshold:  0.5,
		priors:        GenerateRetinaFacePriors(inputW, inputH),
	}, nil
}

// SetConfidenceThreshold applies a new detection threshold to subsequent
// frames (hot reload path)
func (r *RetinaFaceDetector) SetConfidenceThreshold(threshold float32) {
	r.mu.Lock()
	r.ConfThreshold = threshold
	r.mu.Unlock()
}

func (r *RetinaFaceDetector) Close() {
	if r != nil && r.Enabled {
		r.Net.Close()
		log.Println("detection(retinaface): closed network")
		r.Enabled = false
	}
}

// DetectFaces runs face detection on a frame. Degenerate input (empty or
// undecodable Mat) yields an empty result, never an error.
func (r *RetinaFaceDetector) DetectFaces(img gocv.Mat) []DetectionResult {
	if r == nil || !r.Enabled || img.Empty() || img.Cols() == 0 || img.Rows() == 0 {
		return nil
	}

	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, r.ScaleFactor, image.Pt(r.InputSizeW, r.InputSizeH), r.MeanVal, false, false)
	defer blob.Close()

	r.mu.Lock()
	confThreshold := r.ConfThreshold
	r.Net.SetInput(blob, "input")
	outputs := r.Net.ForwardLayers([]string{"bbox", "confidence", "landmark"})
	r.mu.Unlock()

	defer func() {
		for _, mat := range outputs {
			mat.Close()
		}
	}()
	if len(outputs) < 3 {
		log.Printf("detection(retinaface): expected 3 outputs (boxes, scores, landmarks), got %d", len(outputs))
		return nil
	}

	numDetections := outputs[0].Size()[1]
	boxes := matToFloat32(outputs[0])
	scores := matToFloat32(outputs[1])
	landmarks := matToFloat32(outputs[2])

	detections := decodeDetections(boxes, scores, landmarks, numDetections, r.priors, imgWidth, imgHeight, confThreshold)
	return nonMaxSuppression(detections, r.IoUThreshold)
}

// matToFloat32 flattens a network output Mat into a float32 slice
func matToFloat32(m gocv.Mat) []float32 {
	flat := m.Reshape(1, 1)
	defer flat.Close()
	vals := make([]float32, flat.Cols())
	for i := range vals {
		vals[i] = flat.GetFloatAt(0, i)
	}
	return vals
}

// decodeDetections converts raw network outputs into detections in source
// image coordinates. Pure so it can be tested without model weights.
func decodeDetections(boxes, scores, landmarks []float32, numDetections int, priors []PriorBox, imgWidth, imgHeight, confThreshold float32) []DetectionResult {
	if len(priors) != numDetections {
		log.Printf("detection(retinaface): priors count (%d) != detections (%d)", len(priors), numDetections)
		return nil
	}
	if len(boxes) < numDetections*4 || len(scores) < numDetections*2 || len(landmarks) < numDetections*10 {
		log.Printf("detection(retinaface): output tensors shorter than expected for %d detections", numDetections)
		return nil
	}
	variances := [2]float32{0.1, 0.2}

	var detections []DetectionResult
	for i := 0; i < numDetections; i++ {
		// scores are [background, face] pairs
		scoreFace := scores[i*2+1]
		if scoreFace < confThreshold {
			continue
		}

		var rawBox [4]float32
		copy(rawBox[:], boxes[i*4:i*4+4])
		decoded := DecodeBox(rawBox, priors[i], variances)
		x1 := max(0, decoded[0]*imgWidth)
		y1 := max(0, decoded[1]*imgHeight)
		x2 := min(imgWidth, decoded[2]*imgWidth)
		y2 := min(imgHeight, decoded[3]*imgHeight)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		var rawLandmarks [10]float32
		copy(rawLandmarks[:], landmarks[i*10:i*10+10])
		decodedPts := DecodeLandmarks(rawLandmarks, priors[i], variances)
		pts := make([]Point2D, 5)
		for j, p := range decodedPts {
			pts[j] = Point2D{X: p.X * imgWidth, Y: p.Y * imgHeight}
		}

		faceArea := (x2 - x1) * (y2 - y1)
		relativeSize := faceArea / (imgWidth * imgHeight)
		qualityScore := scoreFace * relativeSize * 100
		detections = append(detections, DetectionResult{
			X:            int(x1),
			Y:            int(y1),
			W:            int(x2 - x1),
			H:            int(y2 - y1),
			Confidence:   scoreFace,
			Landmarks:    pts,
			ModelName:    "retinaface",
			QualityScore: &qualityScore,
		})
	}

	return detections
}

// nonMaxSuppression removes overlapping detections, keeping the highest
// confidence box of each cluster
func nonMaxSuppression(detections []DetectionResult, iouThreshold float32) []DetectionResult {
	if len(detections) == 0 {
		return detections
	}

	// Sort by confidence (highest first)
	for i := 0; i < len(detections)-1; i++ {
		for j := i + 1; j < len(detections); j++ {
			if detections[i].Confidence < detections[j].Confidence {
				detections[i], detections[j] = detections[j], detections[i]
			}
		}
	}

	var result []DetectionResult
	used := make([]bool, len(detections))

	for i := 0; i < len(detections); i++ {
		if used[i] {
			continue
		}

		result = append(result, detections[i])
		used[i] = true

		for j := i + 1; j < len(detections); j++ {
			if used[j] {
				continue
			}

			if calculateIoU(detections[i], detections[j]) > iouThreshold {
				used[j] = true
			}
		}
	}

	return result
}

// calculateIoU calculates the Intersection over Union between two detections
func calculateIoU(a, b DetectionResult) float32 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := float32((x2 - x1) * (y2 - y1))
	areaA := float32(a.W * a.H)
	areaB := float32(b.W * b.H)
	union := areaA + areaB - intersection

	return intersection / union
}
