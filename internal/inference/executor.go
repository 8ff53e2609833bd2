package inference

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/SyedDaiam9101/detector-service/internal/admission"
	"github.com/SyedDaiam9101/detector-service/internal/apperr"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/metrics"
)

// Outcome is the result of one admitted inference.
type Outcome struct {
	Detections []detection.Raw
	// Latency covers the detector call only.
	Latency time.Duration
	// SlotWait is the time spent waiting for an admission slot.
	SlotWait time.Duration
}

// Executor runs detector calls under an admission controller.
type Executor struct {
	detector Detector
	slots    *admission.Controller
}

// NewExecutor creates an Executor. A nil detector makes every Run fail with
// apperr.ModelUnavailable.
func NewExecutor(detector Detector, slots *admission.Controller) *Executor {
	if slots == nil {
		slots = admission.New(admission.Options{Capacity: 1})
	}
	return &Executor{detector: detector, slots: slots}
}

// Detector returns the wrapped detector, which may be nil.
func (e *Executor) Detector() Detector { return e.detector }

// Slots returns the admission controller.
func (e *Executor) Slots() *admission.Controller { return e.slots }

type result struct {
	raws []detection.Raw
	err  error
}

// Run admits the call, then executes Detect on a dedicated goroutine and
// waits for it. Once admitted the call always runs to completion.
func (e *Executor) Run(ctx context.Context, img image.Image, p Params) (Outcome, error) {
	if e.detector == nil {
		return Outcome{}, apperr.New(apperr.ModelUnavailable, "Model not loaded")
	}
	if err := e.CheckParams(p); err != nil {
		return Outcome{}, err
	}

	var latency time.Duration
	raws, wait, err := admission.WithSlot(ctx, e.slots, func() ([]detection.Raw, error) {
		start := time.Now()
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("detector panic: %v", r)}
				}
			}()
			raws, err := e.detector.Detect(img, p)
			done <- result{raws: raws, err: err}
		}()
		res := <-done
		latency = time.Since(start)
		return res.raws, res.err
	})

	out := Outcome{Detections: raws, Latency: latency, SlotWait: wait}
	if err != nil {
		return out, classify(err)
	}

	if out.Detections == nil {
		out.Detections = []detection.Raw{}
	}
	metrics.RecordInferenceLatency(latency.Seconds())
	metrics.RecordDetections(len(out.Detections))
	return out, nil
}

// CheckParams rejects parameters the loaded model cannot run with.
func (e *Executor) CheckParams(p Params) error {
	if e.detector == nil {
		return nil
	}
	if fixed := e.detector.FixedInputSize(); fixed > 0 && InputSize(p.ImgSize) != fixed {
		return invalidSizeError(fixed)
	}
	return nil
}

// PinInputSize replaces p.ImgSize with the model's fixed input size. It
// reports whether p changed.
func PinInputSize(det Detector, p Params) (Params, bool) {
	if det == nil {
		return p, false
	}
	fixed := det.FixedInputSize()
	if fixed == 0 || InputSize(p.ImgSize) == fixed {
		return p, false
	}
	p.ImgSize = fixed
	return p, true
}

func invalidSizeError(fixed int) error {
	return apperr.New(apperr.InvalidParameter, "imgsz must be %d for this model", fixed)
}

func classify(err error) error {
	var rejected *apperr.Error
	switch {
	case errors.As(err, &rejected):
		return rejected
	case errors.Is(err, admission.ErrQueueFull):
		return apperr.Wrap(apperr.Overloaded, err, "Too many pending inference requests")
	case errors.Is(err, admission.ErrWaitTimeout):
		return apperr.Wrap(apperr.Overloaded, err, "Timed out waiting for an inference slot")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.Overloaded, err, "Request cancelled while waiting for an inference slot")
	default:
		return apperr.Wrap(apperr.InferenceFailure, err, "Inference failed")
	}
}
