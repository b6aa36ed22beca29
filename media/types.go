// media/types.go
package media

import "image"

type AssetType string

const (
	AssetTypeEvidence   AssetType = "evidence"
	AssetTypeDebugFrame AssetType = "debug_frame"
	AssetTypeUnknown    AssetType = "unknown"
)

// Point2D is a landmark coordinate in source-image pixels
type Point2D struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// DetectionResult is one detected face in a frame
type DetectionResult struct {
	X          int
	Y          int
	W          int
	H          int
	Confidence float32

	// five-point landmarks: left eye, right eye, nose, left mouth, right mouth
	Landmarks []Point2D

	ModelName    string
	QualityScore *float32

	// filled in by the embedder stage; nil when extraction failed
	Embedding []float32
}

// Rect returns the bounding box as an image.Rectangle
func (d DetectionResult) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.W, d.Y+d.H)
}
