package data

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skincare-service/inference"
	"skincare-service/retrieval"
	"skincare-service/service"
)

func TestPaginationNormalize(t *testing.T) {
	p := Pagination{}.normalize()
	assert.Equal(t, Pagination{Page: 1, PageSize: defaultPageSize}, p)
	assert.Equal(t, 0, p.offset())

	p = Pagination{Page: 3, PageSize: 500}.normalize()
	assert.Equal(t, maxPageSize, p.PageSize)
	assert.Equal(t, 200, p.offset())
}

func TestNewAnalysisRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := &service.Analysis{
		Success:         true,
		SkinType:        &inference.Result{Label: "지성", Confidence: 0.81},
		SkinDisease:     &inference.Result{Label: "여드름", Confidence: 0.64},
		SkinState:       &inference.Result{Label: inference.HealthyState, Confidence: 0.8},
		Recommendations: []string{"논코메도제닉 제품을 사용하세요."},
		AnalyzedAt:      at,
	}

	rec, err := NewAnalysisRecord("user-1", a)
	require.NoError(t, err)
	assert.Equal(t, "success", rec.Status)
	assert.Equal(t, "지성", rec.SkinType)
	assert.InDelta(t, 0.64, rec.DiseaseConfidence, 1e-9)
	assert.Equal(t, at, rec.CreatedAt)
	assert.JSONEq(t, `["여드름"]`, rec.Concerns)
	assert.JSONEq(t, `["논코메도제닉 제품을 사용하세요."]`, rec.Recommendations)

	back, err := rec.Analysis()
	require.NoError(t, err)
	assert.Equal(t, "여드름", back.SkinDisease.Label)
}

func TestNewAnalysisRecordFailure(t *testing.T) {
	rec, err := NewAnalysisRecord("user-1", &service.Analysis{Success: false, Error: "models unavailable"})
	require.NoError(t, err)
	assert.Equal(t, "fail", rec.Status)
	assert.Equal(t, "[]", rec.Concerns)
	assert.Equal(t, "[]", rec.Recommendations)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestNewRecommendationRecord(t *testing.T) {
	q := retrieval.DiagnosisQuery{SkinType: "건성", Sensitivity: "보통"}
	res := &retrieval.Result{
		Summary:   "요약",
		Narrative: "토너: A - 보습",
		Recommendations: []retrieval.Recommendation{
			{Category: "토너", ProductName: "A", Reason: "보습", Matched: true},
		},
		Suggestions: []retrieval.Suggestion{},
	}

	rec, err := NewRecommendationRecord("user-2", q, res)
	require.NoError(t, err)
	assert.Equal(t, "[]", rec.Concerns)

	recs, err := rec.Recommendations()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "보습", recs[0].Reason)

	var suggestions []retrieval.Suggestion
	require.NoError(t, json.Unmarshal([]byte(rec.Suggestions), &suggestions))
	assert.Empty(t, suggestions)
}

func TestReviewEmbeddingRoundTrip(t *testing.T) {
	meta := retrieval.Metadata{ProductName: "라운드랩 독도 토너", Review: "순해요", SkinType: "지성", Rating: 5}
	row := NewReviewEmbedding("toner", "gemini/text-embedding-004", meta, []float32{0.1, -0.2, 0.3})
	assert.Equal(t, 3, row.Dim)

	sv, err := row.toStored()
	require.NoError(t, err)
	assert.Equal(t, row.ID.String(), sv.ID)
	assert.Equal(t, meta, sv.Metadata)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, sv.Vector)

	row.Vector = []byte{1, 2}
	_, err = row.toStored()
	assert.Error(t, err)
}
