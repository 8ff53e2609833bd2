package inference

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/detector-service/internal/apperr"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

func TestMockDetector_Detect(t *testing.T) {
	mock := NewMock()
	img := imaging.New(8, 4, color.White)
	p := Params{Conf: 0.3, IoU: 0.5, ImgSize: 320}

	raws, err := mock.Detect(img, p)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, 0, raws[0].ClassID)
	assert.Equal(t, 1, mock.CallCount())
	assert.Equal(t, p, mock.LastParams())
	assert.Equal(t, image.Rect(0, 0, 8, 4), mock.LastBounds())
}

func TestMockDetector_Error(t *testing.T) {
	mock := NewMock()
	mock.SetError("test error")

	_, err := mock.Detect(imaging.New(1, 1, color.Black), Params{})
	require.Error(t, err)
	assert.Equal(t, "test error", err.Error())

	mock.ClearError()
	_, err = mock.Detect(imaging.New(1, 1, color.Black), Params{})
	assert.NoError(t, err)
}

func TestMockDetector_ReturnsCopy(t *testing.T) {
	mock := NewMock()
	raws, err := mock.Detect(nil, Params{})
	require.NoError(t, err)
	raws[0].ClassID = 42

	again, err := mock.Detect(nil, Params{})
	require.NoError(t, err)
	assert.Equal(t, 0, again[0].ClassID)
}

func TestInputSize(t *testing.T) {
	assert.Equal(t, 640, InputSize(640))
	assert.Equal(t, 352, InputSize(330))
	assert.Equal(t, 32, InputSize(1))
	assert.Equal(t, 32, InputSize(32))
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, AnchorCount(640))
	assert.Equal(t, 21, AnchorCount(32))
}

func TestPrepareInputLetterbox(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	img := imaging.New(64, 32, red)

	data, lb := prepareInput(img, 32)
	require.Len(t, data, 3*32*32)

	assert.InDelta(t, 0.5, lb.scale, 1e-6)
	assert.Equal(t, float32(0), lb.padX)
	assert.Equal(t, float32(8), lb.padY)

	plane := 32 * 32
	// top row is padding
	assert.InDelta(t, 114.0/255.0, data[0], 1e-6)
	assert.InDelta(t, 114.0/255.0, data[plane], 1e-6)
	// centre is the source colour
	centre := 16*32 + 16
	assert.InDelta(t, 1.0, data[centre], 1e-6)
	assert.InDelta(t, 0.0, data[plane+centre], 1e-6)
	assert.InDelta(t, 0.0, data[2*plane+centre], 1e-6)

	x, y := lb.toSource(16, 16)
	assert.InDelta(t, 32, x, 1e-6)
	assert.InDelta(t, 16, y, 1e-6)
}

// output builds a [4+classes, anchors] tensor with the given anchor rows set.
func output(classes, anchors int, rows map[int][]float32) []float32 {
	out := make([]float32, (4+classes)*anchors)
	for a, row := range rows {
		for c, v := range row {
			out[c*anchors+a] = v
		}
	}
	return out
}

func identity(size int) letterbox {
	return letterbox{size: size, scale: 1, width: size, height: size}
}

func TestDecodeOutputClassAwareNMS(t *testing.T) {
	const anchors = 21
	out := output(2, anchors, map[int][]float32{
		0: {10, 10, 4, 4, 0.9, 0},
		1: {10.5, 10, 4, 4, 0.8, 0},
		2: {10, 10, 4, 4, 0, 0.7},
		3: {20, 20, 4, 4, 0.2, 0},
	})

	raws := decodeOutput(out, 6, anchors, identity(32), Params{Conf: 0.25, IoU: 0.45})
	require.Len(t, raws, 2)

	assert.Equal(t, 0, raws[0].ClassID)
	assert.InDelta(t, 0.9, raws[0].Confidence, 1e-6)
	assert.Equal(t, detection.Box{X1: 8, Y1: 8, X2: 12, Y2: 12}, raws[0].Box)

	assert.Equal(t, 1, raws[1].ClassID)
	assert.InDelta(t, 0.7, raws[1].Confidence, 1e-6)
}

func TestDecodeOutputClampsToImage(t *testing.T) {
	const anchors = 21
	out := output(1, anchors, map[int][]float32{
		4: {1, 31, 6, 6, 0.6},
	})

	raws := decodeOutput(out, 5, anchors, identity(32), Params{Conf: 0.25, IoU: 0.45})
	require.Len(t, raws, 1)
	assert.Equal(t, detection.Box{X1: 0, Y1: 28, X2: 4, Y2: 32}, raws[0].Box)
}

func TestDecodeOutputShortBuffer(t *testing.T) {
	assert.Empty(t, decodeOutput(make([]float32, 3), 6, 21, identity(32), Params{}))
	assert.NotNil(t, decodeOutput(nil, 4, 21, identity(32), Params{}))
}

func TestSuppressKeepsLowOverlap(t *testing.T) {
	cands := []candidate{
		{box: [4]float32{0, 0, 10, 10}, score: 0.9},
		{box: [4]float32{20, 20, 30, 30}, score: 0.8},
	}
	assert.Len(t, suppress(cands, 0.1), 2)
}

func TestIoU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, [4]float32{10, 10, 20, 20}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou(a, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestResolveDevice(t *testing.T) {
	assert.Equal(t, "cpu", ResolveDevice(""))
	assert.Equal(t, "cpu", ResolveDevice("   "))
	assert.Equal(t, "cuda:1", ResolveDevice(" CUDA:1 "))
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in       string
		provider string
		id       string
		ok       bool
	}{
		{"cpu", providerCPU, "", true},
		{"", providerCPU, "", true},
		{"cuda", providerCUDA, "0", true},
		{"cuda:2", providerCUDA, "2", true},
		{"1", providerCUDA, "1", true},
		{"mps", providerCoreML, "", true},
		{"coreml", providerCoreML, "", true},
		{"cuda:x", "", "", false},
		{"tpu", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			provider, id, ok := parseDevice(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestNew_MissingModel(t *testing.T) {
	_, err := New(Options{ModelPath: "testdata/does-not-exist.onnx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestRealInference_WithModel(t *testing.T) {
	// Skip if ONNX model or library is not available
	modelPath := "testdata/yolov8n.onnx"
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		t.Skip("Skipping real inference test: testdata/yolov8n.onnx not found")
	}

	infer, err := New(Options{
		ModelPath:         modelPath,
		SharedLibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
	})
	if err != nil {
		t.Skipf("Skipping real inference test: %v", err)
	}
	defer infer.Close()

	size := 320
	if fixed := infer.FixedInputSize(); fixed > 0 {
		size = fixed
		_, err := infer.Detect(imaging.New(8, 8, color.White), Params{Conf: 0.25, IoU: 0.45, ImgSize: fixed + Stride})
		assert.True(t, apperr.Is(err, apperr.InvalidParameter), "%v", err)
	}

	img := imaging.New(320, 240, color.NRGBA{R: 40, G: 40, B: 40, A: 255})
	raws, err := infer.Detect(img, Params{Conf: 0.25, IoU: 0.45, ImgSize: size})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raws), MaxDetections)
	for _, r := range raws {
		assert.GreaterOrEqual(t, r.Box.X1, 0.0)
		assert.LessOrEqual(t, r.Box.X2, 320.0)
	}
}

func tensorInfo(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{Name: name, Dimensions: ort.NewShape(dims...)}
}

func TestLayoutOf(t *testing.T) {
	tests := []struct {
		name    string
		input   ort.InputOutputInfo
		output  ort.InputOutputInfo
		want    modelLayout
		wantErr string
	}{
		{
			name:   "static custom export",
			input:  tensorInfo("images", 1, 3, 640, 640),
			output: tensorInfo("output0", 1, 6, 8400),
			want:   modelLayout{inputSize: 640, numClasses: 2},
		},
		{
			name:   "dynamic axes",
			input:  tensorInfo("images", -1, 3, -1, -1),
			output: tensorInfo("output0", -1, 84, -1),
			want:   modelLayout{numClasses: 80},
		},
		{
			name:   "dynamic channels",
			input:  tensorInfo("images", 1, 3, 320, 320),
			output: tensorInfo("output0", 1, -1, 2100),
			want:   modelLayout{inputSize: 320},
		},
		{
			name:   "renamed tensors",
			input:  tensorInfo("input", 1, 3, 416, 416),
			output: tensorInfo("preds", 1, 5, 3549),
			want:   modelLayout{inputSize: 416, numClasses: 1},
		},
		{
			name:    "non-square input",
			input:   tensorInfo("images", 1, 3, 480, 640),
			output:  tensorInfo("output0", 1, 84, 6300),
			wantErr: "non-square",
		},
		{
			name:    "no class channels",
			input:   tensorInfo("images", 1, 3, 640, 640),
			output:  tensorInfo("output0", 1, 4, 8400),
			wantErr: "channels",
		},
		{
			name:    "wrong output rank",
			input:   tensorInfo("images", 1, 3, 640, 640),
			output:  tensorInfo("output0", 1, 8400, 84, 1),
			wantErr: "shape",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := layoutOf([]ort.InputOutputInfo{tt.input}, []ort.InputOutputInfo{tt.output})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLayoutOfMissingOutput(t *testing.T) {
	_, err := layoutOf(
		[]ort.InputOutputInfo{tensorInfo("images", 1, 3, 640, 640)},
		[]ort.InputOutputInfo{tensorInfo("a", 1, 84, 8400), tensorInfo("b", 1, 32, 160, 160)},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output0")
}

func TestResolveCatalog(t *testing.T) {
	configured := detection.ListCatalog{"cone"}
	embedded := detection.MapCatalog{0: "helmet", 1: "vest"}

	assert.Equal(t, configured, resolveCatalog(configured, embedded))
	assert.Equal(t, embedded, resolveCatalog(nil, embedded))
	assert.Equal(t, embedded, resolveCatalog(detection.ListCatalog{}, embedded))
	assert.Equal(t, detection.COCO(), resolveCatalog(nil, nil))
}

func TestEmbeddedNamesParse(t *testing.T) {
	c, err := detection.ParseCatalog([]byte(`{0: 'helmet', 1: "worker's vest", 2: 'no helmet'}`))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Size())
	assert.Equal(t, "worker's vest", c.Name(1))
	assert.Equal(t, "no helmet", c.Name(2))
}

// Channel count comes from the model, so a 2-class export decodes correctly
// even when the catalog in use is COCO.
func TestDecodeOutputWidthIndependentOfCatalog(t *testing.T) {
	const anchors = 21
	layout, err := layoutOf(
		[]ort.InputOutputInfo{tensorInfo("images", 1, 3, 32, 32)},
		[]ort.InputOutputInfo{tensorInfo("output0", 1, 6, anchors)},
	)
	require.NoError(t, err)
	catalog := resolveCatalog(nil, nil)
	require.NotEqual(t, layout.numClasses, catalog.Size())

	out := output(layout.numClasses, anchors, map[int][]float32{
		5: {16, 16, 8, 8, 0.1, 0.8},
	})
	raws := decodeOutput(out, 4+layout.numClasses, anchors, identity(32), Params{Conf: 0.25, IoU: 0.45})
	require.Len(t, raws, 1)
	assert.Equal(t, 1, raws[0].ClassID)
	assert.Equal(t, detection.Box{X1: 12, Y1: 12, X2: 20, Y2: 20}, raws[0].Box)

	// Sizing the buffer from the catalog would not decode anything.
	assert.Empty(t, decodeOutput(out, 4+catalog.Size(), anchors, identity(32), Params{Conf: 0.25, IoU: 0.45}))
}
