package inference

import (
	"image"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// Params are the per-call detector hyperparameters.
type Params struct {
	// Conf is the minimum class score for a candidate box, in [0,1].
	Conf float64 `json:"conf"`
	// IoU is the overlap above which non-maximum suppression drops a box, in [0,1].
	IoU float64 `json:"iou"`
	// ImgSize is the square model input size in pixels, in [32,2048].
	ImgSize int `json:"imgsz"`
}

// Detector defines the object-detection capability the service wraps.
// Implementations are shared process-wide; callers bound concurrent Detect
// calls themselves.
type Detector interface {
	// Detect runs the model on img and returns detections ordered by
	// descending confidence, with boxes in img pixel coordinates.
	Detect(img image.Image, p Params) ([]detection.Raw, error)

	// Catalog returns the class names of the loaded model.
	Catalog() detection.Catalog

	// Device returns the execution device the model was loaded on.
	Device() string

	// FixedInputSize returns the only input size the model accepts, or 0
	// when any stride-aligned size works.
	FixedInputSize() int

	// Close releases any resources held by the detector.
	Close() error
}
