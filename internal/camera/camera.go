// Package camera adapts OpenCV capture devices and windows to the live loop.
package camera

import (
	"fmt"
	"image"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// MaxEmptyFrames is how many consecutive empty frames Read tolerates.
const MaxEmptyFrames = 30

// ErrEmptyFrames is returned when the device keeps delivering empty frames.
var ErrEmptyFrames = errors.New("camera keeps returning empty frames")

// Capture reads frames from a local capture device.
type Capture struct {
	index  int
	webcam *gocv.VideoCapture
	frame  gocv.Mat
}

// Open opens capture device index. On macOS the AVFoundation backend is tried
// first and the default backend is used as a fallback.
func Open(index int) (*Capture, error) {
	webcam, err := open(index)
	if err != nil {
		return nil, err
	}
	return &Capture{index: index, webcam: webcam, frame: gocv.NewMat()}, nil
}

func open(index int) (*gocv.VideoCapture, error) {
	if runtime.GOOS == "darwin" {
		webcam, err := gocv.OpenVideoCaptureWithAPI(index, gocv.VideoCaptureAVFoundation)
		if err == nil && webcam.IsOpened() {
			return webcam, nil
		}
		if webcam != nil {
			_ = webcam.Close()
		}
	}

	webcam, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("error opening video capture device %d: %w", index, err)
	}
	if !webcam.IsOpened() {
		_ = webcam.Close()
		return nil, fmt.Errorf("camera %d could not be opened; check that camera access is allowed for this terminal", index)
	}
	return webcam, nil
}

// Read returns the next frame. It returns io.EOF once the device stops
// delivering frames. Up to MaxEmptyFrames empty frames in a row are skipped.
func (c *Capture) Read() (image.Image, error) {
	err := grabFrame(func() (bool, bool) {
		ok := c.webcam.Read(&c.frame)
		return ok, ok && c.frame.Empty()
	})
	if err != nil {
		return nil, err
	}
	img, err := c.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame from device %d: %w", c.index, err)
	}
	return img, nil
}

// grabFrame calls grab until it yields a non-empty frame.
func grabFrame(grab func() (ok, empty bool)) error {
	for i := 0; i < MaxEmptyFrames; i++ {
		ok, empty := grab()
		if !ok {
			return io.EOF
		}
		if !empty {
			return nil
		}
	}
	return ErrEmptyFrames
}

// Close releases the device.
func (c *Capture) Close() error {
	if err := c.frame.Close(); err != nil {
		return err
	}
	return c.webcam.Close()
}

// Window is a native OpenCV display window.
type Window struct {
	window *gocv.Window
}

// NewWindow opens a window titled name.
func NewWindow(name string) *Window {
	return &Window{window: gocv.NewWindow(name)}
}

// Show displays frame.
func (w *Window) Show(frame image.Image) error {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return fmt.Errorf("convert frame for display: %w", err)
	}
	defer mat.Close()

	w.window.IMShow(mat)
	return nil
}

// WaitKey waits up to delayMs for a key press.
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.window.Close()
}
