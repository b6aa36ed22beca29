package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

const alignmentTemplateSize = 112

// canonical ArcFace five-point template (112x112): left eye, right eye,
// nose, left mouth corner, right mouth corner
var alignmentTemplate = [5]gocv.Point2f{
	{X: 38.2946, Y: 51.6963},
	{X: 73.5318, Y: 51.5014},
	{X: 56.0252, Y: 71.7366},
	{X: 41.5493, Y: 92.3655},
	{X: 70.7299, Y: 92.2041},
}

// FaceEmbedder produces fixed-length identity vectors from detected faces.
// A single instance is shared by all camera lanes; forward passes are
// serialized because OpenCV networks are not safe for concurrent use.
type FaceEmbedder struct {
	mu        sync.Mutex
	Net       gocv.Net
	Enabled   bool
	ModelName string

	InputSizeW int
	InputSizeH int
}

// NewFaceEmbedder loads a face embedding model (ArcFace, FaceNet, etc.)
func NewFaceEmbedder(modelPath string, modelName string) (*FaceEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("recognition: model path is empty")
	}

	log.Printf("recognition: loading %s model: %s", modelName, modelPath)

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("recognition: model file does not exist: %s", modelPath)
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("recognition: ReadNet returned an empty network for %s", modelName)
	}

	// Try to use CUDA if available
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Printf("recognition: Set backend/target to CUDA for %s", modelName)
	} else {
		if cudaBackendErr != nil {
			log.Printf("recognition: CUDA Backend not available for %s: %v. Using default backend.", modelName, cudaBackendErr)
		}
		if cudaTargetErr != nil {
			log.Printf("recognition: CUDA Target not available for %s: %v. Using default target.", modelName, cudaTargetErr)
		}

		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Printf("recognition: Set backend/target to CPU (Default) for %s", modelName)
	}

	var inputSizeW, inputSizeH int
	switch modelName {
	case "facenet":
		inputSizeW, inputSizeH = 160, 160
	default: // arcface and compatible exports
		inputSizeW, inputSizeH = 112, 112
	}

	return &FaceEmbedder{
		Net:        net,
		Enabled:    true,
		ModelName:  modelName,
		InputSizeW: inputSizeW,
		InputSizeH: inputSizeH,
	}, nil
}

func (f *FaceEmbedder) Close() {
	if f != nil && f.Enabled {
		f.Net.Close()
		log.Printf("recognition: closed %s network", f.ModelName)
		f.Enabled = false
	}
}

// EmbedBatch extracts L2-normalized embeddings for every detection in one
// forward pass. The result slice is index-aligned with detections; an entry
// is nil when alignment or extraction failed for that face. Batching never
// reorders results.
func (f *FaceEmbedder) EmbedBatch(img gocv.Mat, detections []DetectionResult) [][]float32 {
	out := make([][]float32, len(detections))
	if f == nil || !f.Enabled || img.Empty() || len(detections) == 0 {
		return out
	}

	aligned := make([]gocv.Mat, 0, len(detections))
	valid := make([]int, 0, len(detections))
	defer func() {
		for _, m := range aligned {
			m.Close()
		}
	}()
	for i, det := range detections {
		face := f.alignFace(img, det)
		if face.Empty() {
			face.Close()
			continue
		}
		aligned = append(aligned, face)
		valid = append(valid, i)
	}
	if len(aligned) == 0 {
		return out
	}

	// models expect RGB in [0,1]; inputs are BGR Mats, so swap at blob time
	blob := gocv.NewMat()
	gocv.BlobFromImages(aligned, &blob, 1.0/255.0, image.Pt(f.InputSizeW, f.InputSizeH), gocv.NewScalar(0, 0, 0, 0), true, false, gocv.MatTypeCV32F)
	defer blob.Close()

	f.mu.Lock()
	f.Net.SetInput(blob, "")
	output := f.Net.Forward("")
	f.mu.Unlock()
	defer output.Close()

	if output.Rows() != len(aligned) {
		log.Printf("recognition: batch output rows (%d) != batch size (%d)", output.Rows(), len(aligned))
		return out
	}

	dim := output.Cols()
	for batchIdx, detIdx := range valid {
		vec := make([]float32, dim)
		for c := 0; c < dim; c++ {
			vec[c] = output.GetFloatAt(batchIdx, c)
		}
		out[detIdx] = NormalizeEmbedding(vec)
	}
	return out
}

// ExtractEmbedding extracts the embedding for a single detection
func (f *FaceEmbedder) ExtractEmbedding(img gocv.Mat, det DetectionResult) []float32 {
	res := f.EmbedBatch(img, []DetectionResult{det})
	if len(res) == 0 {
		return nil
	}
	return res[0]
}

// alignFace warps the face onto the canonical template using a similarity
// transform estimated from the five landmarks. Falls back to a plain crop
// and resize when landmarks are missing or the transform is degenerate.
func (f *FaceEmbedder) alignFace(img gocv.Mat, det DetectionResult) gocv.Mat {
	if len(det.Landmarks) == 5 {
		src := make([]gocv.Point2f, 5)
		for i, p := range det.Landmarks {
			src[i] = gocv.Point2f{X: p.X, Y: p.Y}
		}
		scaleX := float32(f.InputSizeW) / float32(alignmentTemplateSize)
		scaleY := float32(f.InputSizeH) / float32(alignmentTemplateSize)
		dst := make([]gocv.Point2f, 5)
		for i, p := range alignmentTemplate {
			dst[i] = gocv.Point2f{X: p.X * scaleX, Y: p.Y * scaleY}
		}

		fromVec := gocv.NewPoint2fVectorFromPoints(src)
		defer fromVec.Close()
		toVec := gocv.NewPoint2fVectorFromPoints(dst)
		defer toVec.Close()

		transform := gocv.EstimateAffinePartial2D(fromVec, toVec)
		defer transform.Close()
		if !transform.Empty() {
			warped := gocv.NewMat()
			gocv.WarpAffine(img, &warped, transform, image.Pt(f.InputSizeW, f.InputSizeH))
			return warped
		}
	}
	return f.cropResize(img, det)
}

func (f *FaceEmbedder) cropResize(img gocv.Mat, det DetectionResult) gocv.Mat {
	rect := det.Rect().Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if rect.Empty() {
		return gocv.NewMat()
	}
	region := img.Region(rect)
	defer region.Close()

	resized := gocv.NewMat()
	gocv.Resize(region, &resized, image.Pt(f.InputSizeW, f.InputSizeH), 0, 0, gocv.InterpolationLinear)
	return resized
}

// NormalizeEmbedding scales an embedding to unit length (L2 normalization)
func NormalizeEmbedding(embedding []float32) []float32 {
	if len(embedding) == 0 {
		return embedding
	}

	var norm float32
	for _, val := range embedding {
		norm += val * val
	}
	norm = float32(math.Sqrt(float64(norm)))

	if norm == 0 {
		return embedding
	}

	normalized := make([]float32, len(embedding))
	for i, val := range embedding {
		normalized[i] = val / norm
	}

	return normalized
}

// CosineSimilarity computes cosine similarity between two embeddings.
// Embeddings are normalized at extraction, so the dot product suffices.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct float32
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
	}

	return dotProduct
}
