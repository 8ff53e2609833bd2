package detection

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// RankMode is the key detections are ranked by before the count cutoff.
type RankMode string

const (
	// RankConfidence ranks by confidence, highest first.
	RankConfidence RankMode = "conf"
	// RankArea ranks by box area, largest first.
	RankArea RankMode = "area"
)

// ParseRankMode maps a pick strategy name to a RankMode. Anything other than
// "area" ranks by confidence.
func ParseRankMode(s string) RankMode {
	if strings.EqualFold(strings.TrimSpace(s), string(RankArea)) {
		return RankArea
	}
	return RankConfidence
}

// Policy controls which detections are picked for highlighting.
type Policy struct {
	// TargetClass keeps only detections of this class when set.
	TargetClass *int
	Rank        RankMode
	// MinArea excludes boxes smaller than this many square pixels. Zero disables.
	MinArea float64
	// MaxCount keeps at most this many detections. Zero means unlimited.
	MaxCount int
	// AreaAfterCutoff applies the MinArea exclusion after the MaxCount cutoff,
	// so an undersized box still occupies one of the MaxCount places.
	AreaAfterCutoff bool
}

// Select applies the policy: class filter, rank, cutoff and area exclusion.
// The ranking is stable, so equal keys keep their input order. The input
// slice is not modified.
func Select(raws []Raw, p Policy) []Raw {
	var out []Raw
	if p.TargetClass != nil {
		target := *p.TargetClass
		out = lo.Filter(raws, func(d Raw, _ int) bool { return d.ClassID == target })
	} else {
		out = append([]Raw{}, raws...)
	}

	if !p.AreaAfterCutoff {
		out = excludeSmall(out, p.MinArea)
	}

	rank(out, p.Rank)

	if p.MaxCount > 0 && len(out) > p.MaxCount {
		out = out[:p.MaxCount]
	}

	if p.AreaAfterCutoff {
		out = excludeSmall(out, p.MinArea)
	}
	return out
}

func rank(ds []Raw, mode RankMode) {
	if mode == RankArea {
		sort.SliceStable(ds, func(i, j int) bool { return ds[i].Box.Area() > ds[j].Box.Area() })
		return
	}
	sort.SliceStable(ds, func(i, j int) bool { return ds[i].Confidence > ds[j].Confidence })
}

func excludeSmall(ds []Raw, minArea float64) []Raw {
	if minArea <= 0 {
		return ds
	}
	return lo.Filter(ds, func(d Raw, _ int) bool { return d.Box.Sorted().Area() >= minArea })
}
