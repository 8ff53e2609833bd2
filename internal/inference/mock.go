package inference

import (
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// MockDetector is a mock implementation of Detector for testing.
// It returns deterministic detections without requiring the ONNX shared library.
type MockDetector struct {
	mu sync.Mutex

	// Detections is returned by every Detect call
	Detections []detection.Raw
	// Delay makes each Detect call sleep before returning
	Delay time.Duration
	// ShouldError if true, Detect will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// ShouldPanic if true, Detect panics
	ShouldPanic bool
	// FixedSize is reported by FixedInputSize
	FixedSize int

	catalog    detection.Catalog
	device     string
	callCount  int
	lastParams Params
	lastBounds image.Rectangle
}

// NewMock creates a new MockDetector returning a single person detection
func NewMock() *MockDetector {
	return NewMockWithDetections([]detection.Raw{
		{ClassID: 0, Confidence: 0.9, Box: detection.Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
	})
}

// NewMockWithDetections creates a MockDetector returning dets
func NewMockWithDetections(dets []detection.Raw) *MockDetector {
	return &MockDetector{
		Detections: dets,
		catalog:    detection.COCO(),
		device:     DefaultDevice,
	}
}

// Detect returns the configured detections.
func (m *MockDetector) Detect(img image.Image, p Params) ([]detection.Raw, error) {
	m.mu.Lock()
	m.callCount++
	m.lastParams = p
	if img != nil {
		m.lastBounds = img.Bounds()
	}
	delay, shouldErr, msg, shouldPanic := m.Delay, m.ShouldError, m.ErrorMessage, m.ShouldPanic
	out := append([]detection.Raw{}, m.Detections...)
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if shouldPanic {
		panic("mock detector panic")
	}
	if shouldErr {
		if msg != "" {
			return nil, errors.New(msg)
		}
		return nil, errors.New("mock inference error")
	}
	return out, nil
}

// Catalog returns the mock class names.
func (m *MockDetector) Catalog() detection.Catalog { return m.catalog }

// SetCatalog replaces the mock class names.
func (m *MockDetector) SetCatalog(c detection.Catalog) { m.catalog = c }

// Device returns the mock device.
func (m *MockDetector) Device() string { return m.device }

// SetDevice replaces the mock device name.
func (m *MockDetector) SetDevice(d string) { m.device = d }

// FixedInputSize returns FixedSize.
func (m *MockDetector) FixedInputSize() int { return m.FixedSize }

// Close is a no-op for the mock implementation
func (m *MockDetector) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next Detect call
func (m *MockDetector) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockDetector) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// CallCount returns the number of Detect calls
func (m *MockDetector) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastParams returns the parameters of the most recent Detect call
func (m *MockDetector) LastParams() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// LastBounds returns the bounds of the most recently seen image
func (m *MockDetector) LastBounds() image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastBounds
}

// Ensure MockDetector implements Detector at compile time
var _ Detector = (*MockDetector)(nil)
