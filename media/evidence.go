package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

const (
	EvidenceJpegQuality = 80

	// fraction of the box size added on each side so the crop keeps context
	evidenceCropPadding = 0.25
)

// EvidenceWriter saves cropped face regions as attendance evidence with
// UUID filenames
type EvidenceWriter struct {
	store Store
}

func NewEvidenceWriter(store Store) *EvidenceWriter {
	return &EvidenceWriter{store: store}
}

// SaveCrop writes the padded face region of the frame as a JPEG and returns
// the stored relative path
func (ew *EvidenceWriter) SaveCrop(frame gocv.Mat, det DetectionResult) (string, error) {
	if frame.Empty() {
		return "", fmt.Errorf("evidence: frame is empty")
	}

	rect := paddedRect(det, frame.Cols(), frame.Rows())
	if rect.Empty() {
		return "", fmt.Errorf("evidence: detection box lies outside the frame")
	}

	region := frame.Region(rect)
	crop := region.Clone()
	region.Close()
	defer crop.Close()

	img, err := crop.ToImage()
	if err != nil {
		return "", fmt.Errorf("evidence: failed to convert crop: %w", err)
	}

	evidenceUUID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("evidence: failed to generate UUID for crop: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(EvidenceJpegQuality)); err != nil {
		return "", fmt.Errorf("evidence: failed to encode crop: %w", err)
	}

	relPath, err := ew.store.Save(AssetTypeEvidence, evidenceUUID.String()+".jpg", &buf)
	if err != nil {
		return "", fmt.Errorf("evidence: failed to save crop: %w", err)
	}
	return relPath, nil
}

// paddedRect expands the detection box by the crop padding and clamps it to
// the frame bounds
func paddedRect(det DetectionResult, frameW, frameH int) image.Rectangle {
	padX := int(float64(det.W) * evidenceCropPadding)
	padY := int(float64(det.H) * evidenceCropPadding)
	rect := image.Rect(det.X-padX, det.Y-padY, det.X+det.W+padX, det.Y+det.H+padY)
	return rect.Intersect(image.Rect(0, 0, frameW, frameH))
}

// DrawDetections draws boxes, landmarks, and labels onto the frame in
// place. labels is index-aligned with detections; an empty label marks an
// unmatched face.
func DrawDetections(frame *gocv.Mat, detections []DetectionResult, labels []string) {
	matchedColor := color.RGBA{R: 0, G: 220, B: 80}
	unmatchedColor := color.RGBA{R: 220, G: 60, B: 60}

	for i, det := range detections {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}

		c := unmatchedColor
		text := fmt.Sprintf("%.2f", det.Confidence)
		if label != "" {
			c = matchedColor
			text = fmt.Sprintf("%s %.2f", label, det.Confidence)
		}

		gocv.Rectangle(frame, det.Rect(), c, 2)
		for _, p := range det.Landmarks {
			gocv.Circle(frame, image.Pt(int(p.X), int(p.Y)), 2, c, -1)
		}

		org := image.Pt(det.X, det.Y-6)
		if org.Y < 12 {
			org = image.Pt(det.X, det.Y+det.H+14)
		}
		gocv.PutText(frame, text, org, gocv.FontHersheySimplex, 0.5, c, 1)
	}
}

// EncodeFrameJPEG encodes a full frame as JPEG bytes
func EncodeFrameJPEG(frame gocv.Mat) ([]byte, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("evidence: frame is empty")
	}
	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("evidence: failed to convert frame: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(EvidenceJpegQuality)); err != nil {
		return nil, fmt.Errorf("evidence: failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
