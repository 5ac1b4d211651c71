package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"skincare-service/embedding"
	"skincare-service/generation"
	"skincare-service/metrics"
)

const (
	SummaryPlaceholder   = "분석 요약을 생성하지 못했습니다."
	NarrativePlaceholder = "추천 이유를 생성하지 못했습니다. 후보 목록을 참고하세요."
	NoCandidatesMessage  = "조건에 맞는 추천 후보가 없습니다."

	ointmentTopK = 5
)

// Config tunes the recommender.
type Config struct {
	Categories    []Category
	TopK          int
	PerCategory   int
	RankingMode   RankingMode
	OintmentIndex string

	SummaryMaxTokens   int
	RecommendMaxTokens int
}

func (c *Config) setDefaults() {
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories
	}
	if c.TopK <= 0 {
		c.TopK = 30
	}
	if c.PerCategory <= 0 {
		c.PerCategory = 1
	}
	if c.RankingMode == "" {
		c.RankingMode = RankByScore
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 300
	}
	if c.RecommendMaxTokens <= 0 {
		c.RecommendMaxTokens = 600
	}
}

// Recommender runs the embed, search, aggregate, generate pipeline.
type Recommender struct {
	embedder  embedding.Embedder
	indexes   map[string]CategoryIndex
	generator generation.Generator
	cfg       Config
	logger    zerolog.Logger
}

func NewRecommender(embedder embedding.Embedder, indexes map[string]CategoryIndex, generator generation.Generator, cfg Config, logger zerolog.Logger) *Recommender {
	cfg.setDefaults()
	if generator == nil {
		generator = generation.Disabled{}
	}
	return &Recommender{
		embedder:  embedder,
		indexes:   indexes,
		generator: generator,
		cfg:       cfg,
		logger:    logger.With().Str("component", "recommender").Logger(),
	}
}

// Recommend never fails on backend errors; they degrade the result instead.
// It returns ErrRetrievalUnavailable only when nothing is configured and the
// context error when the caller gives up.
func (r *Recommender) Recommend(ctx context.Context, q DiagnosisQuery) (*Result, error) {
	if r.embedder == nil || len(r.indexes) == 0 {
		return nil, ErrRetrievalUnavailable
	}

	res := &Result{
		Query:           BuildQueryText(q),
		Candidates:      []Candidate{},
		Recommendations: []Recommendation{},
		Suggestions:     []Suggestion{},
	}

	res.Summary = r.generate(ctx, generation.Request{
		System:    summarySystem,
		Prompt:    BuildSummaryPrompt(q),
		MaxTokens: r.cfg.SummaryMaxTokens,
	}, "summary")
	if res.Summary == "" {
		res.Summary = SummaryPlaceholder
		res.Degraded = true
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := r.embedder.EmbedText(ctx, res.Query)
	metrics.RecordStage("embed", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.Warn().Err(err).Msg("query embedding failed, skipping every category")
		for _, c := range r.cfg.Categories {
			res.skip(c.Name, "embedding_failed")
		}
		res.Narrative = NoCandidatesMessage
		res.Degraded = true
		return res, nil
	}

	start = time.Now()
	for _, c := range r.cfg.Categories {
		cands, reason := r.searchCategory(ctx, c, vec, q.Concerns)
		if reason != "" {
			res.skip(c.Name, reason)
			continue
		}
		res.Candidates = append(res.Candidates, cands...)
	}
	ointment := r.searchOintment(ctx, vec, q.Concerns)
	metrics.RecordStage("search", time.Since(start))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(res.Candidates) == 0 {
		res.Narrative = NoCandidatesMessage
		return res, nil
	}

	res.Narrative = r.generate(ctx, generation.Request{
		System:    recommendSystem,
		Prompt:    BuildPrompt(q, r.cfg.Categories, res.Candidates, ointment),
		MaxTokens: r.cfg.RecommendMaxTokens,
	}, "recommend")
	if res.Narrative == "" {
		res.Narrative = NarrativePlaceholder
		res.Degraded = true
		res.Recommendations = Unmatched(r.cfg.Categories, res.Candidates)
		return res, nil
	}

	recs, suggestions := ParseRecommendations(res.Narrative, r.cfg.Categories, res.Candidates)
	res.Recommendations = recs
	if suggestions != nil {
		res.Suggestions = suggestions
	}
	for _, rec := range recs {
		if !rec.Matched {
			r.logger.Info().Str("category", rec.Category).Msg("generated text did not mention category")
		}
	}
	return res, nil
}

func (res *Result) skip(category, reason string) {
	res.Skipped = append(res.Skipped, Skipped{Category: category, Reason: reason})
	metrics.RetrievalCategorySkipped.WithLabelValues(category, reason).Inc()
}

func (r *Recommender) searchCategory(ctx context.Context, c Category, vec []float32, concerns []string) ([]Candidate, string) {
	idx, ok := r.indexes[c.Index]
	if !ok {
		return nil, "index_missing"
	}
	matches, err := idx.Query(ctx, vec, r.cfg.TopK)
	if err != nil {
		r.logger.Warn().Err(err).Str("category", c.Name).Msg("index query failed")
		return nil, "query_failed"
	}
	if len(matches) == 0 {
		return nil, "no_matches"
	}
	cands := Aggregate(c.Name, FilterByConcerns(matches, concerns), r.cfg.RankingMode, r.cfg.PerCategory)
	if len(cands) == 0 {
		return nil, "no_products"
	}
	return cands, ""
}

func (r *Recommender) searchOintment(ctx context.Context, vec []float32, concerns []string) *Candidate {
	if r.cfg.OintmentIndex == "" {
		return nil
	}
	idx, ok := r.indexes[r.cfg.OintmentIndex]
	if !ok {
		return nil
	}
	matches, err := idx.Query(ctx, vec, ointmentTopK)
	if err != nil || len(matches) == 0 {
		return nil
	}
	cands := Aggregate(KindOintment, FilterByConcerns(matches, concerns), RankByScore, 1)
	if len(cands) == 0 {
		return nil
	}
	return &cands[0]
}

// generate returns "" on any failure; the caller substitutes a placeholder.
func (r *Recommender) generate(ctx context.Context, req generation.Request, stage string) string {
	start := time.Now()
	text, err := r.generator.Generate(ctx, req)
	metrics.RecordStage("generate_"+stage, time.Since(start))
	if err != nil {
		r.logger.Warn().Err(err).
			Str("stage", stage).
			Bool("timeout", errors.Is(err, context.DeadlineExceeded)).
			Msg("text generation failed")
		return ""
	}
	return text
}

// CategoryNames lists the configured display names.
func (r *Recommender) CategoryNames() []string {
	names := make([]string, len(r.cfg.Categories))
	for i, c := range r.cfg.Categories {
		names[i] = c.Name
	}
	return names
}

// IndexNames lists every index the recommender reads, for loading.
func IndexNames(categories []Category, ointmentIndex string) []string {
	names := make([]string, 0, len(categories)+1)
	for _, c := range categories {
		names = append(names, c.Index)
	}
	if ointmentIndex != "" {
		names = append(names, ointmentIndex)
	}
	return names
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s (n=%d, score=%.3f)", c.Category, c.ProductName, c.Count, c.Score)
}
