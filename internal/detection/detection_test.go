package detection

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

// sample has areas 100, 10 and 50.
func sample() []Raw {
	return []Raw{
		{ClassID: 0, Confidence: 0.9, Box: Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{ClassID: 1, Confidence: 0.95, Box: Box{X1: 0, Y1: 0, X2: 2, Y2: 5}},
		{ClassID: 0, Confidence: 0.3, Box: Box{X1: 0, Y1: 0, X2: 5, Y2: 10}},
	}
}

func TestSelectTargetClassByConfidence(t *testing.T) {
	got := Select(sample(), Policy{TargetClass: intPtr(0), Rank: RankConfidence, MaxCount: 1})

	require.Len(t, got, 1)
	assert.Equal(t, sample()[0], got[0])
}

func TestSelectAllByArea(t *testing.T) {
	got := Select(sample(), Policy{Rank: RankArea, MaxCount: 2})

	require.Len(t, got, 2)
	assert.Equal(t, 100.0, got[0].Box.Area())
	assert.Equal(t, 50.0, got[1].Box.Area())
}

func TestSelectUnlimited(t *testing.T) {
	got := Select(sample(), Policy{Rank: RankConfidence})

	require.Len(t, got, 3)
	assert.Equal(t, []float64{0.95, 0.9, 0.3}, []float64{got[0].Confidence, got[1].Confidence, got[2].Confidence})
}

func TestSelectStableOnEqualConfidence(t *testing.T) {
	in := []Raw{
		{ClassID: 3, Confidence: 0.5},
		{ClassID: 1, Confidence: 0.7},
		{ClassID: 4, Confidence: 0.5},
		{ClassID: 5, Confidence: 0.5},
	}
	got := Select(in, Policy{Rank: RankConfidence})

	require.Len(t, got, 4)
	assert.Equal(t, []int{1, 3, 4, 5}, []int{got[0].ClassID, got[1].ClassID, got[2].ClassID, got[3].ClassID})
}

func TestSelectIdempotent(t *testing.T) {
	policies := []Policy{
		{Rank: RankConfidence},
		{Rank: RankArea, MaxCount: 2},
		{TargetClass: intPtr(0), Rank: RankConfidence, MaxCount: 1},
		{Rank: RankArea, MinArea: 40, MaxCount: 2},
		{Rank: RankConfidence, MinArea: 40, MaxCount: 2, AreaAfterCutoff: true},
	}
	for _, p := range policies {
		once := Select(sample(), p)
		twice := Select(once, p)
		assert.Equal(t, once, twice, "policy %+v", p)
	}
}

func TestSelectDoesNotMutateInput(t *testing.T) {
	in := sample()
	_ = Select(in, Policy{Rank: RankArea})
	assert.Equal(t, sample(), in)
}

func TestSelectMinAreaBeforeCutoff(t *testing.T) {
	// By confidence the area-10 box ranks first; excluding it before the
	// cutoff lets the next box take its place.
	got := Select(sample(), Policy{Rank: RankConfidence, MinArea: 20, MaxCount: 1})

	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Confidence)
}

func TestSelectMinAreaAfterCutoff(t *testing.T) {
	// Legacy ordering: the undersized box consumes the only place and is then
	// dropped, so nothing is highlighted.
	got := Select(sample(), Policy{Rank: RankConfidence, MinArea: 20, MaxCount: 1, AreaAfterCutoff: true})

	assert.Empty(t, got)
}

func TestSelectMinAreaUsesSortedCoordinates(t *testing.T) {
	in := []Raw{{ClassID: 0, Confidence: 0.5, Box: Box{X1: 10, Y1: 10, X2: 0, Y2: 0}}}
	got := Select(in, Policy{MinArea: 100})
	assert.Len(t, got, 1)
}

func TestSelectEmpty(t *testing.T) {
	assert.Empty(t, Select(nil, Policy{TargetClass: intPtr(2), MaxCount: 3}))
}

func TestParseRankMode(t *testing.T) {
	assert.Equal(t, RankArea, ParseRankMode("area"))
	assert.Equal(t, RankArea, ParseRankMode(" AREA "))
	assert.Equal(t, RankConfidence, ParseRankMode("conf"))
	assert.Equal(t, RankConfidence, ParseRankMode("size"))
	assert.Equal(t, RankConfidence, ParseRankMode(""))
}

func TestBoxRect(t *testing.T) {
	b := Box{X1: 20.7, Y1: -3.2, X2: 5.1, Y2: 40.9}
	assert.Equal(t, image.Rect(5, 0, 20, 40), b.Rect())
	assert.InDelta(t, 15.6*44.1, b.Area(), 1e-9)
}

func TestFormatPreservesOrderAndResolvesNames(t *testing.T) {
	raws := []Raw{
		{ClassID: 2, Confidence: 0.4, Box: Box{X1: 1, Y1: 2, X2: 3, Y2: 4}},
		{ClassID: 0, Confidence: 0.8},
		{ClassID: 99, Confidence: 0.6},
	}
	got := Format(raws, ListCatalog{"person", "bicycle", "car"})

	require.Len(t, got, 3)
	assert.Equal(t, "car", got[0].ClassName)
	assert.Equal(t, Box{X1: 1, Y1: 2, X2: 3, Y2: 4}, got[0].Box)
	assert.Equal(t, "person", got[1].ClassName)
	assert.Equal(t, "99", got[2].ClassName)
}

func TestFormatEmpty(t *testing.T) {
	got := Format(nil, COCO())
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = Format([]Raw{}, nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCatalogLookupFallback(t *testing.T) {
	var list Catalog = ListCatalog{"a", "b"}
	var sparse Catalog = MapCatalog{0: "helmet", 5: "vest"}

	assert.Equal(t, "b", list.Name(1))
	assert.Equal(t, "2", list.Name(2))
	assert.Equal(t, "-1", list.Name(-1))
	assert.Equal(t, "vest", sparse.Name(5))
	assert.Equal(t, "3", sparse.Name(3))
	assert.Equal(t, 2, list.Size())
	assert.Equal(t, 6, sparse.Size())
}

func TestParseCatalog(t *testing.T) {
	list, err := ParseCatalog([]byte("- helmet\n- vest\n"))
	require.NoError(t, err)
	assert.Equal(t, ListCatalog{"helmet", "vest"}, list)

	sparse, err := ParseCatalog([]byte("0: helmet\n4: vest\n"))
	require.NoError(t, err)
	assert.Equal(t, MapCatalog{0: "helmet", 4: "vest"}, sparse)

	nested, err := ParseCatalog([]byte("path: data\nnames:\n  0: helmet\n  1: vest\n"))
	require.NoError(t, err)
	assert.Equal(t, "vest", nested.Name(1))

	_, err = ParseCatalog([]byte("just a string"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(""))
	assert.Error(t, err)
}

func TestCOCOCatalog(t *testing.T) {
	c := COCO()
	assert.Equal(t, 80, c.Size())
	assert.Equal(t, "person", c.Name(0))
	assert.Equal(t, "toothbrush", c.Name(79))
}
