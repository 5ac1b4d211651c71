// Package retrieval recommends products by embedding a diagnosis, searching
// per-category review indexes and asking a language model to justify the
// strongest candidates.
package retrieval

import (
	"context"
	"errors"
)

// ErrRetrievalUnavailable is returned when the recommender has no embedder
// or no indexes to search.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// DiagnosisQuery is the user's skin profile.
type DiagnosisQuery struct {
	SkinType    string   `json:"skin_type" validate:"required,max=50"`
	Sensitivity string   `json:"sensitivity" validate:"max=50"`
	Concerns    []string `json:"concerns" validate:"max=20,dive,max=50"`
}

// Metadata is stored with every review vector.
type Metadata struct {
	ProductName string  `json:"product_name"`
	Review      string  `json:"review"`
	SkinType    string  `json:"skin_type"`
	Rating      float64 `json:"rating"`
	ImageURL    string  `json:"image_url"`
	Link        string  `json:"link"`
}

// Match is one nearest-neighbor hit.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// CategoryIndex is a nearest-neighbor index for one product category.
type CategoryIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
}

// Category pairs a display name with the index that serves it.
type Category struct {
	Name  string
	Index string
}

// DefaultCategories are queried in this order.
var DefaultCategories = []Category{
	{Name: "토너", Index: "toner"},
	{Name: "앰플", Index: "ampoule"},
	{Name: "크림", Index: "cream"},
}

// Candidate is a product aggregated over its matching reviews.
type Candidate struct {
	Category    string   `json:"category"`
	ProductName string   `json:"product_name"`
	Count       int      `json:"count"`
	Score       float64  `json:"score"`
	MeanRating  float64  `json:"mean_rating"`
	Metadata    Metadata `json:"metadata"`
}

// Recommendation is the final pick for one category. Matched is false when
// the generated text did not mention the category; Reason is then empty.
type Recommendation struct {
	Category    string `json:"category"`
	ProductName string `json:"product_name"`
	Reason      string `json:"reason"`
	Matched     bool   `json:"matched"`
	SkinType    string `json:"skin_type,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Suggestion kinds parsed from generated text.
const (
	KindOintment  = "연고"
	KindProcedure = "시술"
)

// Suggestion is an ointment or dermatology procedure named by the model.
type Suggestion struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Skipped records a category that contributed no candidates.
type Skipped struct {
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// Result is the outcome of one recommendation.
type Result struct {
	Query           string           `json:"query"`
	Summary         string           `json:"summary"`
	Narrative       string           `json:"narrative"`
	Candidates      []Candidate      `json:"candidates"`
	Recommendations []Recommendation `json:"recommendations"`
	Suggestions     []Suggestion     `json:"suggestions"`
	Skipped         []Skipped        `json:"skipped,omitempty"`
	Degraded        bool             `json:"degraded"`
}
