package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uncovering-world/track-your-regions-sub005/internal/common"
	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/service"
)

type stubGeometry struct {
	service.Geometry
	nearby []model.Division
}

func (g *stubGeometry) Nearby(_ context.Context, _, _, _ float64, limit int) ([]model.Division, error) {
	out := g.nearby
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func TestGeocodeStrategyRanksByProximity(t *testing.T) {
	geocoder := &countingGeocoder{result: &service.GeocodeResult{Lat: 45.6, Lon: 9.8}}
	geo := &stubGeometry{nearby: []model.Division{
		{ID: 10, Name: "Lombardy"},
		{ID: 11, Name: "Piedmont"},
		{ID: 12, Name: "Emilia-Romagna"},
	}}

	s := NewGeocode(geocoder, geo, 100, 5)
	candidates, err := s.GenerateCandidates(context.Background(), model.SourceNode{Name: "Lombardy", Path: "World > Italy"})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, int64(10), candidates[0].DivisionID)
	assert.InDelta(t, 0.8, candidates[0].Score, 1e-9)
	assert.InDelta(t, 0.7, candidates[1].Score, 1e-9)
	assert.Equal(t, "geocode", candidates[0].Source)
	assert.Equal(t, 100.0, candidates[0].RadiusKm)
}

func TestGeocodeStrategyNoResultIsNotAnError(t *testing.T) {
	geocoder := &countingGeocoder{} // nil result
	s := NewGeocode(geocoder, &stubGeometry{}, 100, 5)

	candidates, err := s.GenerateCandidates(context.Background(), model.SourceNode{Name: "Atlantis"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestGeocodeStrategyWrapsFailures(t *testing.T) {
	geocoder := &countingGeocoder{err: errors.New("timeout")}
	s := NewGeocode(geocoder, &stubGeometry{}, 100, 5)

	_, err := s.GenerateCandidates(context.Background(), model.SourceNode{Name: "Lombardy"})
	assert.ErrorIs(t, err, common.ErrStrategyUnavailable)
}

func TestAIResultParsing(t *testing.T) {
	client := &aiClient{cfg: AIConfig{}}

	result, err := client.parseResult("```json\n" +
		`{"candidates":[{"divisionId":10,"name":"Lombardy","score":0.9,"justification":"exact match"}],"confidence":0.85}` +
		"\n```")
	require.NoError(t, err)

	assert.InDelta(t, 0.85, result.Confidence, 1e-9)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, int64(10), result.Candidates[0].DivisionID)
	assert.Equal(t, "ai", result.Candidates[0].Source)
	assert.Equal(t, "exact match", result.Candidates[0].Justification)
}

func TestAIResultParsingRejectsGarbage(t *testing.T) {
	client := &aiClient{cfg: AIConfig{}}
	_, err := client.parseResult("I could not find anything useful.")
	assert.Error(t, err)
}
