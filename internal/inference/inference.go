package inference

import (
	"image"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// Tensor names of a stock YOLOv8 ONNX export.
const (
	inputName  = "images"
	outputName = "output0"
)

// Options configures an ONNX detector.
type Options struct {
	ModelPath string
	// SharedLibraryPath points at the onnxruntime shared library. Empty uses
	// the runtime's default lookup.
	SharedLibraryPath string
	Device            string
	// Catalog supplies the class names. Nil uses the names embedded in the
	// model, then the COCO names.
	Catalog detection.Catalog
	// IntraOpThreads sets the per-session thread count. Zero keeps the default.
	IntraOpThreads int
}

// Inference wraps an ONNX runtime session running a YOLOv8 detection model.
// It implements the Detector interface.
type Inference struct {
	mu         sync.RWMutex
	session    *ort.DynamicAdvancedSession
	catalog    detection.Catalog
	device     string
	inputSize  int
	numClasses int
}

// New creates a new Inference instance by loading the ONNX model at opts.ModelPath
func New(opts Options) (*Inference, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found: %s", opts.ModelPath)
	}

	device := ResolveDevice(opts.Device)
	provider, deviceID, ok := parseDevice(device)
	if !ok {
		return nil, errors.Errorf("unsupported device %q", device)
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}

	layout, err := inspectModel(opts.ModelPath)
	if err != nil {
		return nil, err
	}
	// Unreadable or malformed embedded names fall back to COCO.
	embedded, _ := embeddedCatalog(opts.ModelPath)
	catalog := resolveCatalog(opts.Catalog, embedded)

	numClasses := layout.numClasses
	if numClasses == 0 {
		numClasses = catalog.Size()
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			return nil, errors.Wrap(err, "failed to set intra-op threads")
		}
	}
	if err := appendProvider(options, provider, deviceID); err != nil {
		return nil, errors.Wrapf(err, "failed to enable device %s", device)
	}

	// A dynamic session accepts a different input size on every call.
	session, err := ort.NewDynamicAdvancedSession(
		opts.ModelPath,
		[]string{inputName},
		[]string{outputName},
		options,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	return &Inference{
		session:    session,
		catalog:    catalog,
		device:     device,
		inputSize:  layout.inputSize,
		numClasses: numClasses,
	}, nil
}

func appendProvider(options *ort.SessionOptions, provider, deviceID string) error {
	switch provider {
	case providerCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA provider options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": deviceID}); err != nil {
			return errors.Wrap(err, "update CUDA provider options")
		}
		return options.AppendExecutionProviderCUDA(cuda)
	case providerCoreML:
		return options.AppendExecutionProviderCoreML(0)
	default:
		return nil
	}
}

// Detect letterboxes img to the requested input size, runs the session and
// decodes the output.
func (inf *Inference) Detect(img image.Image, p Params) ([]detection.Raw, error) {
	inf.mu.RLock()
	defer inf.mu.RUnlock()

	if inf.session == nil {
		return nil, errors.New("inference session is nil")
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("empty input image")
	}

	size := InputSize(p.ImgSize)
	if inf.inputSize > 0 && size != inf.inputSize {
		return nil, invalidSizeError(inf.inputSize)
	}
	data, lb := prepareInput(img, size)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer inputTensor.Destroy()

	channels := 4 + inf.numClasses
	anchors := AnchorCount(size)
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(channels), int64(anchors)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output tensor")
	}
	defer outputTensor.Destroy()

	err = inf.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	return decodeOutput(outputTensor.GetData(), channels, anchors, lb, p), nil
}

// Catalog returns the class names of the model.
func (inf *Inference) Catalog() detection.Catalog { return inf.catalog }

// Device returns the execution device the session was created for.
func (inf *Inference) Device() string { return inf.device }

// FixedInputSize returns the input size of a static-shape export, or 0.
func (inf *Inference) FixedInputSize() int { return inf.inputSize }

// Close releases the ONNX session resources
func (inf *Inference) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session != nil {
		err := inf.session.Destroy()
		inf.session = nil
		if err != nil {
			return errors.Wrap(err, "failed to destroy session")
		}
	}

	return ort.DestroyEnvironment()
}

// Ensure Inference implements Detector at compile time
var _ Detector = (*Inference)(nil)
