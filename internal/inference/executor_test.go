package inference

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/detector-service/internal/admission"
	"github.com/SyedDaiam9101/detector-service/internal/apperr"
)

var testImage = imaging.New(4, 4, color.White)

func TestExecutorRun(t *testing.T) {
	mock := NewMock()
	exec := NewExecutor(mock, admission.New(admission.Options{Capacity: 1}))

	out, err := exec.Run(context.Background(), testImage, Params{Conf: 0.25, IoU: 0.45, ImgSize: 640})
	require.NoError(t, err)
	assert.Len(t, out.Detections, 1)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, 640, mock.LastParams().ImgSize)

	stats := exec.Slots().Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
}

func TestExecutorEmptyResultIsNotNil(t *testing.T) {
	exec := NewExecutor(NewMockWithDetections(nil), nil)
	out, err := exec.Run(context.Background(), testImage, Params{})
	require.NoError(t, err)
	assert.NotNil(t, out.Detections)
	assert.Empty(t, out.Detections)
}

func TestExecutorNoDetector(t *testing.T) {
	exec := NewExecutor(nil, nil)
	_, err := exec.Run(context.Background(), testImage, Params{})
	assert.True(t, apperr.Is(err, apperr.ModelUnavailable))
	assert.Equal(t, int64(0), exec.Slots().Stats().Acquired)
}

func TestExecutorDetectorError(t *testing.T) {
	mock := NewMock()
	mock.SetError("boom")
	exec := NewExecutor(mock, nil)

	_, err := exec.Run(context.Background(), testImage, Params{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.InferenceFailure))
	assert.Equal(t, "Inference failed", apperr.MessageOf(err))
	// the runtime text stays in the error for logging only
	assert.Contains(t, err.Error(), "boom")

	stats := exec.Slots().Stats()
	assert.Equal(t, int64(0), stats.InUse)
}

func TestExecutorDetectorPanic(t *testing.T) {
	mock := NewMock()
	mock.ShouldPanic = true
	exec := NewExecutor(mock, nil)

	_, err := exec.Run(context.Background(), testImage, Params{})
	assert.True(t, apperr.Is(err, apperr.InferenceFailure))
	assert.Equal(t, int64(0), exec.Slots().Stats().InUse)

	mock.ShouldPanic = false
	_, err = exec.Run(context.Background(), testImage, Params{})
	assert.NoError(t, err)
}

func TestExecutorWaitTimeoutIsOverloaded(t *testing.T) {
	slots := admission.New(admission.Options{Capacity: 1, WaitTimeout: 10 * time.Millisecond})
	_, err := slots.Acquire(context.Background())
	require.NoError(t, err)
	defer slots.Release()

	exec := NewExecutor(NewMock(), slots)
	_, err = exec.Run(context.Background(), testImage, Params{})
	assert.True(t, apperr.Is(err, apperr.Overloaded))
}

func TestExecutorLatencyExcludesSlotWait(t *testing.T) {
	const (
		delay   = 20 * time.Millisecond
		holdFor = 150 * time.Millisecond
	)
	mock := NewMock()
	mock.Delay = delay
	slots := admission.New(admission.Options{Capacity: 1})
	exec := NewExecutor(mock, slots)

	_, err := slots.Acquire(context.Background())
	require.NoError(t, err)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(holdFor)
		slots.Release()
	}()

	out, err := exec.Run(context.Background(), testImage, Params{})
	require.NoError(t, err)
	wg.Wait()

	assert.GreaterOrEqual(t, out.SlotWait, holdFor/2)
	assert.GreaterOrEqual(t, out.Latency, delay)
	assert.Less(t, out.Latency, delay+out.SlotWait/2)
	assert.Equal(t, 1, mock.CallCount())
}

func TestExecutorFixedInputSize(t *testing.T) {
	mock := NewMock()
	mock.FixedSize = 320
	exec := NewExecutor(mock, nil)

	require.NoError(t, exec.CheckParams(Params{ImgSize: 320}))
	require.NoError(t, exec.CheckParams(Params{ImgSize: 300}))

	err := exec.CheckParams(Params{ImgSize: 640})
	assert.True(t, apperr.Is(err, apperr.InvalidParameter), "%v", err)
	assert.Equal(t, "imgsz must be 320 for this model", apperr.MessageOf(err))

	_, err = exec.Run(context.Background(), testImage, Params{ImgSize: 640})
	assert.True(t, apperr.Is(err, apperr.InvalidParameter), "%v", err)
	assert.Equal(t, 0, mock.CallCount())
	assert.Equal(t, int64(0), exec.Slots().Stats().Acquired)
}

func TestExecutorAnyInputSize(t *testing.T) {
	exec := NewExecutor(NewMock(), nil)
	assert.NoError(t, exec.CheckParams(Params{ImgSize: 1280}))
	assert.NoError(t, NewExecutor(nil, nil).CheckParams(Params{ImgSize: 1280}))
}

func TestPinInputSize(t *testing.T) {
	mock := NewMock()
	p := Params{Conf: 0.25, IoU: 0.45, ImgSize: 640}

	got, changed := PinInputSize(mock, p)
	assert.False(t, changed)
	assert.Equal(t, p, got)

	mock.FixedSize = 320
	got, changed = PinInputSize(mock, p)
	assert.True(t, changed)
	assert.Equal(t, 320, got.ImgSize)
	assert.Equal(t, p.Conf, got.Conf)

	_, changed = PinInputSize(mock, Params{ImgSize: 320})
	assert.False(t, changed)
	_, changed = PinInputSize(nil, p)
	assert.False(t, changed)
}

func TestClassifyKeepsRejectionKind(t *testing.T) {
	err := classify(apperr.New(apperr.InvalidParameter, "bad"))
	assert.True(t, apperr.Is(err, apperr.InvalidParameter))
	assert.Equal(t, "bad", apperr.MessageOf(err))
}
