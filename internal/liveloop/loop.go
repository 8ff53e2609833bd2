// Package liveloop runs the sequential capture, detect, select and display
// loop behind the camera command.
package liveloop

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
	"github.com/SyedDaiam9101/detector-service/internal/metrics"
)

// QuitKey stops the loop when pressed in the display window.
const QuitKey = 'q'

// FrameSource yields frames. Read returns io.EOF at the end of the stream.
type FrameSource interface {
	Read() (image.Image, error)
	Close() error
}

// Display shows frames and reports key presses.
type Display interface {
	Show(frame image.Image) error
	// WaitKey waits up to delayMs for a key press and returns its code, or -1.
	WaitKey(delayMs int) int
	Close() error
}

// Renderer draws selected detections onto a frame.
type Renderer interface {
	Render(frame image.Image, dets []detection.Raw, catalog detection.Catalog) image.Image
}

// Loop wires a frame source, a detector and a display together.
type Loop struct {
	Source   FrameSource
	Detector inference.Detector
	Display  Display
	Renderer Renderer
	Params   inference.Params
	Policy   detection.Policy
	Logger   *zap.Logger
}

// ProcessFrame runs one iteration without I/O: detect, select and render.
// When nothing is selected the frame is returned as is.
func (l *Loop) ProcessFrame(frame image.Image) (image.Image, []detection.Raw, error) {
	raws, err := l.Detector.Detect(frame, l.Params)
	if err != nil {
		return nil, nil, errors.Wrap(err, "detect")
	}

	picked := detection.Select(raws, l.Policy)
	if len(picked) == 0 {
		return frame, picked, nil
	}
	return l.Renderer.Render(frame, picked, l.Detector.Catalog()), picked, nil
}

// Run loops until the quit key is pressed, the source ends or ctx is done.
// The source and display are closed on return.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defer func() {
		if err := l.Source.Close(); err != nil {
			logger.Warn("failed to close frame source", zap.Error(err))
		}
		if err := l.Display.Close(); err != nil {
			logger.Warn("failed to close display", zap.Error(err))
		}
	}()

	frames := 0
	for {
		if err := ctx.Err(); err != nil {
			logger.Info("live loop cancelled", zap.Int("frames", frames))
			return nil
		}

		frame, err := l.Source.Read()
		if errors.Is(err, io.EOF) {
			logger.Info("frame source ended", zap.Int("frames", frames))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read frame")
		}

		start := time.Now()
		out, picked, err := l.ProcessFrame(frame)
		if err != nil {
			return err
		}
		metrics.RecordLiveFrame(time.Since(start).Seconds())
		logger.Debug("frame processed", zap.Int("selected", len(picked)))

		if err := l.Display.Show(out); err != nil {
			return errors.Wrap(err, "show frame")
		}
		frames++

		if key := l.Display.WaitKey(1); key >= 0 && key&0xFF == QuitKey {
			logger.Info("quit requested", zap.Int("frames", frames))
			return nil
		}
	}
}
