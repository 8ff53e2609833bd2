package inference

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
)

// MaxDetections caps the number of boxes returned per image.
const MaxDetections = 300

type candidate struct {
	box   [4]float32
	score float32
	class int
}

// decodeOutput turns a YOLOv8 [1, 4+nc, anchors] output into detections in
// source image coordinates, ordered by descending confidence.
func decodeOutput(out []float32, channels, anchors int, lb letterbox, p Params) []detection.Raw {
	numClasses := channels - 4
	if numClasses <= 0 || len(out) < channels*anchors {
		return []detection.Raw{}
	}

	conf := float32(p.Conf)
	width, height := float32(lb.width), float32(lb.height)
	candidates := make([]candidate, 0, 64)

	for a := 0; a < anchors; a++ {
		best, class := float32(-1), -1
		for c := 0; c < numClasses; c++ {
			if s := out[(4+c)*anchors+a]; s > best {
				best, class = s, c
			}
		}
		if class < 0 || best <= conf {
			continue
		}

		cx, cy := out[a], out[anchors+a]
		w, h := out[2*anchors+a], out[3*anchors+a]
		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)

		candidates = append(candidates, candidate{
			box: [4]float32{
				clamp(x1, width), clamp(y1, height),
				clamp(x2, width), clamp(y2, height),
			},
			score: best,
			class: class,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	kept := suppress(candidates, float32(p.IoU))
	if len(kept) > MaxDetections {
		kept = kept[:MaxDetections]
	}

	raws := make([]detection.Raw, 0, len(kept))
	for _, c := range kept {
		raws = append(raws, detection.Raw{
			ClassID:    c.class,
			Confidence: float64(c.score),
			Box: detection.Box{
				X1: float64(c.box[0]),
				Y1: float64(c.box[1]),
				X2: float64(c.box[2]),
				Y2: float64(c.box[3]),
			},
		})
	}
	return raws
}

// suppress performs greedy per-class non-maximum suppression on candidates
// sorted by descending score. A box is dropped when its IoU with a kept box
// of the same class exceeds threshold.
func suppress(candidates []candidate, threshold float32) []candidate {
	kept := make([]candidate, 0, len(candidates))
	used := make([]bool, len(candidates))

	for i := range candidates {
		if used[i] {
			continue
		}
		anchor := candidates[i]
		kept = append(kept, anchor)
		used[i] = true

		for j := i + 1; j < len(candidates); j++ {
			if used[j] || candidates[j].class != anchor.class {
				continue
			}
			if iou(anchor.box, candidates[j].box) > threshold {
				used[j] = true
			}
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	iw := math32.Max(0, math32.Min(a[2], b[2])-math32.Max(a[0], b[0]))
	ih := math32.Max(0, math32.Min(a[3], b[3])-math32.Max(a[1], b[1]))
	inter := iw * ih
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, limit float32) float32 {
	return math32.Min(math32.Max(v, 0), limit)
}
