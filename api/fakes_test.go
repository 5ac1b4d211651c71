package api

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"skincare-service/data"
	"skincare-service/retrieval"
	"skincare-service/service"
)

type fakeAnalyzer struct {
	analysis  service.Analysis
	status    service.Status
	reloadErr error
	ready     bool
	got       []byte
	reloads   int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, raw []byte) service.Analysis {
	f.got = raw
	return f.analysis
}

func (f *fakeAnalyzer) Status() service.Status { return f.status }

func (f *fakeAnalyzer) Reload(context.Context) error {
	f.reloads++
	return f.reloadErr
}

func (f *fakeAnalyzer) IsReady() bool { return f.ready }

type fakeRecommender struct {
	result *retrieval.Result
	err    error
	got    retrieval.DiagnosisQuery
}

func (f *fakeRecommender) Recommend(_ context.Context, q retrieval.DiagnosisQuery) (*retrieval.Result, error) {
	f.got = q
	return f.result, f.err
}

type fakeAnalysisStore struct {
	mu   sync.Mutex
	recs map[string]*data.AnalysisRecord
}

func newFakeAnalysisStore() *fakeAnalysisStore {
	return &fakeAnalysisStore{recs: make(map[string]*data.AnalysisRecord)}
}

func (s *fakeAnalysisStore) Create(_ context.Context, rec *data.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.New()
	s.recs[rec.ID.String()] = rec
	return nil
}

func (s *fakeAnalysisStore) FindByID(_ context.Context, id string) (*data.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, data.ErrNotFound
	}
	return rec, nil
}

func (s *fakeAnalysisStore) FindByUser(_ context.Context, userID string, _ data.Pagination) ([]data.AnalysisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []data.AnalysisRecord
	for _, r := range s.recs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeAnalysisStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return data.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

type fakeRecommendationStore struct {
	mu   sync.Mutex
	recs map[string]*data.RecommendationRecord
}

func newFakeRecommendationStore() *fakeRecommendationStore {
	return &fakeRecommendationStore{recs: make(map[string]*data.RecommendationRecord)}
}

func (s *fakeRecommendationStore) Create(_ context.Context, rec *data.RecommendationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = uuid.New()
	s.recs[rec.ID.String()] = rec
	return nil
}

func (s *fakeRecommendationStore) FindByUser(_ context.Context, userID string, _ data.Pagination) ([]data.RecommendationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []data.RecommendationRecord
	for _, r := range s.recs {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeRecommendationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return data.ErrNotFound
	}
	delete(s.recs, id)
	return nil
}

func testDeps() (Deps, *fakeAnalyzer, *fakeRecommender, *fakeAnalysisStore, *fakeRecommendationStore) {
	analyzer := &fakeAnalyzer{ready: true}
	rec := &fakeRecommender{}
	analyses := newFakeAnalysisStore()
	history := newFakeRecommendationStore()
	return Deps{
		Analyzer:        analyzer,
		Recommender:     rec,
		Analyses:        analyses,
		Recommendations: history,
		MaxUploadBytes:  1 << 20,
		Logger:          zerolog.Nop(),
	}, analyzer, rec, analyses, history
}
