package detection

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog resolves class ids to names. Unknown ids resolve to the decimal id.
type Catalog interface {
	Name(id int) string
	// Size is the number of class slots the model emits (highest id + 1).
	Size() int
}

// ListCatalog is a catalog backed by an ordered sequence of names.
type ListCatalog []string

// Name implements Catalog.
func (c ListCatalog) Name(id int) string {
	if id >= 0 && id < len(c) {
		return c[id]
	}
	return strconv.Itoa(id)
}

// Size implements Catalog.
func (c ListCatalog) Size() int { return len(c) }

// MapCatalog is a catalog backed by a possibly sparse id to name mapping.
type MapCatalog map[int]string

// Name implements Catalog.
func (c MapCatalog) Name(id int) string {
	if name, ok := c[id]; ok {
		return name
	}
	return strconv.Itoa(id)
}

// Size implements Catalog.
func (c MapCatalog) Size() int {
	size := 0
	for id := range c {
		if id+1 > size {
			size = id + 1
		}
	}
	return size
}

// LoadCatalog reads class names from a YAML file. The document may be a
// sequence of names, an id to name mapping, or a mapping with a "names" key
// holding either form.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read class names %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML class name document. See LoadCatalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse class names")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("class names document is empty")
	}
	node := doc.Content[0]

	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "names" {
				node = node.Content[i+1]
				break
			}
		}
	}

	switch node.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return nil, errors.Wrap(err, "decode class name list")
		}
		return ListCatalog(names), nil
	case yaml.MappingNode:
		var names map[int]string
		if err := node.Decode(&names); err != nil {
			return nil, errors.Wrap(err, "decode class name map")
		}
		return MapCatalog(names), nil
	default:
		return nil, errors.Errorf("class names must be a list or a mapping, got %s", node.Tag)
	}
}

// COCO returns the 80 class names used by stock YOLO exports.
func COCO() ListCatalog {
	return ListCatalog{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
		"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
		"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
		"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
		"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
		"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
		"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
		"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
	}
}
