package inference

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// namesMetadataKey is the custom metadata entry holding the class names of an
// Ultralytics export, written as {0: 'person', 1: 'bicycle', ...}.
const namesMetadataKey = "names"

// modelLayout is what the session needs to know about the exported graph.
type modelLayout struct {
	// inputSize is the only accepted square input size, or 0 when the
	// export has dynamic spatial axes.
	inputSize int
	// numClasses is taken from the output channel axis, or 0 when that axis
	// is dynamic.
	numClasses int
}

// inspectModel reads the input/output shapes of the model at path. The ONNX
// environment must be initialized.
func inspectModel(path string) (modelLayout, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return modelLayout{}, errors.Wrap(err, "read model inputs and outputs")
	}
	return layoutOf(inputs, outputs)
}

func layoutOf(inputs, outputs []ort.InputOutputInfo) (modelLayout, error) {
	var layout modelLayout

	in, ok := findTensor(inputs, inputName)
	if !ok {
		return layout, errors.Errorf("model has no %q input", inputName)
	}
	if len(in.Dimensions) != 4 {
		return layout, errors.Errorf("input %q has shape %v, want [batch, 3, height, width]", in.Name, in.Dimensions)
	}
	h, w := in.Dimensions[2], in.Dimensions[3]
	if h > 0 && w > 0 {
		if h != w {
			return layout, errors.Errorf("non-square model input %dx%d is not supported", w, h)
		}
		if int(h)%Stride != 0 {
			return layout, errors.Errorf("model input size %d is not a multiple of %d", h, Stride)
		}
		layout.inputSize = int(h)
	}

	out, ok := findTensor(outputs, outputName)
	if !ok {
		return layout, errors.Errorf("model has no %q output", outputName)
	}
	if len(out.Dimensions) != 3 {
		return layout, errors.Errorf("output %q has shape %v, want [batch, 4+classes, anchors]", out.Name, out.Dimensions)
	}
	if c := out.Dimensions[1]; c > 0 {
		if c <= 4 {
			return layout, errors.Errorf("output %q has %d channels, want at least 5", out.Name, c)
		}
		layout.numClasses = int(c) - 4
	}
	return layout, nil
}

// findTensor looks up name, falling back to the only tensor when the export
// uses other names.
func findTensor(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	if len(infos) == 1 {
		return infos[0], true
	}
	return ort.InputOutputInfo{}, false
}

// embeddedCatalog returns the class names stored in the model metadata, or
// nil when the export carries none.
func embeddedCatalog(path string) (detection.Catalog, error) {
	md, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model metadata")
	}
	defer md.Destroy()

	value, ok, err := md.LookupCustomMetadataMap(namesMetadataKey)
	if err != nil {
		return nil, errors.Wrap(err, "read model class names")
	}
	if !ok || value == "" {
		return nil, nil
	}
	return detection.ParseCatalog([]byte(value))
}

// resolveCatalog picks the configured names, then the names embedded in the
// model, then COCO.
func resolveCatalog(configured, embedded detection.Catalog) detection.Catalog {
	switch {
	case configured != nil && configured.Size() > 0:
		return configured
	case embedded != nil && embedded.Size() > 0:
		return embedded
	default:
		return detection.COCO()
	}
}
