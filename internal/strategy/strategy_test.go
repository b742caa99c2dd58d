package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
)

func TestMergeDeduplicatesKeepingBestScore(t *testing.T) {
	merged := Merge([]model.Candidate{
		{DivisionID: 1, Score: 0.5, Source: "geocode"},
		{DivisionID: 2, Score: 0.7, Source: "text_search"},
		{DivisionID: 1, Score: 0.9, Source: "text_search"},
	}, 10)

	assert.Len(t, merged, 2)
	assert.Equal(t, int64(1), merged[0].DivisionID)
	assert.Equal(t, "text_search", merged[0].Source, "the higher-scored duplicate wins")
	assert.Equal(t, int64(2), merged[1].DivisionID)
}

func TestMergeClampsAndSorts(t *testing.T) {
	merged := Merge([]model.Candidate{
		{DivisionID: 1, Score: 1.7},
		{DivisionID: 2, Score: -0.3},
		{DivisionID: 3, Score: 0.4},
	}, 10)

	assert.Equal(t, []int64{1, 3, 2}, []int64{merged[0].DivisionID, merged[1].DivisionID, merged[2].DivisionID})
	assert.Equal(t, 1.0, merged[0].Score)
	assert.Equal(t, 0.0, merged[2].Score)
}

func TestMergeTieBreaksOnDivisionID(t *testing.T) {
	merged := Merge([]model.Candidate{
		{DivisionID: 9, Score: 0.5},
		{DivisionID: 2, Score: 0.5},
		{DivisionID: 5, Score: 0.5},
	}, 10)

	assert.Equal(t, int64(2), merged[0].DivisionID)
	assert.Equal(t, int64(5), merged[1].DivisionID)
	assert.Equal(t, int64(9), merged[2].DivisionID)
}

func TestMergeCapsAtLimit(t *testing.T) {
	candidates := make([]model.Candidate, 0, 20)
	for i := 1; i <= 20; i++ {
		candidates = append(candidates, model.Candidate{DivisionID: int64(i), Score: float64(i) / 20})
	}

	merged := Merge(candidates, 8)
	assert.Len(t, merged, 8)
	assert.Equal(t, int64(20), merged[0].DivisionID, "the best candidates survive the cap")
}

func TestParentHint(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "empty path", path: "", want: ""},
		{name: "single ancestor", path: "World", want: "World"},
		{name: "deep path", path: "World > Europe > Italy", want: "Italy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parentHint(tt.path))
		})
	}
}
