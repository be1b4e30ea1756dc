package pipeline

import (
	"github.com/dudu/facekit/internal/attribute"
	"github.com/dudu/facekit/internal/encoder"
	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
)

// FaceDetector interface for face detection
type FaceDetector interface {
	Detect(img *imagebuf.Buffer) ([]face.Region, error)
	Close() error
}

// LandmarkPredictor interface for 106-point landmark detection
type LandmarkPredictor interface {
	Predict(img *imagebuf.Buffer, region face.Region) (face.Landmarks, error)
	Close() error
}

// FaceEncoder interface for face encoding extraction
type FaceEncoder interface {
	Encode(img *imagebuf.Buffer, landmarks face.Landmarks) (encoder.Encoding, error)
	Close() error
}

// AttributeClassifier interface for per-face attribute prediction
type AttributeClassifier interface {
	Predict(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error)
	Close() error
}

// stage is anything the facade acquired and must close
type stage interface {
	Close() error
}
