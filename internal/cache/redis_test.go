package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
)

func TestKey(t *testing.T) {
	p := inference.Params{Conf: 0.25, IoU: 0.45, ImgSize: 640}

	k1 := Key([]byte("abc"), p, "yolov8m.onnx")
	assert.Equal(t, k1, Key([]byte("abc"), p, "yolov8m.onnx"))
	assert.NotEqual(t, k1, Key([]byte("abd"), p, "yolov8m.onnx"))
	assert.NotEqual(t, k1, Key([]byte("abc"), p, "yolov8n.onnx"))

	p.ImgSize = 320
	assert.NotEqual(t, k1, Key([]byte("abc"), p, "yolov8m.onnx"))
}

func TestNilCache(t *testing.T) {
	var c *Cache
	_, _, err := c.GetDetections(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, c.SetDetections(context.Background(), "k", nil))
	assert.NoError(t, c.Close())
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis test: REDIS_ADDR not set")
	}

	ctx := context.Background()
	c, err := New(ctx, addr, time.Minute)
	if err != nil {
		t.Skipf("Skipping Redis test: %v", err)
	}
	defer c.Close()

	key := "test:" + uuid.NewString()
	_, ok, err := c.GetDetections(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	dets := []detection.Formatted{{
		ClassID: 0, ClassName: "person", Confidence: 0.9,
		Box: detection.Box{X1: 1, Y1: 2, X2: 3, Y2: 4},
	}}
	require.NoError(t, c.SetDetections(ctx, key, dets))

	got, ok, err := c.GetDetections(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dets, got)
}
