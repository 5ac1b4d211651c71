package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"skincare-service/imaging"
	"skincare-service/inference"
	"skincare-service/metrics"
	"skincare-service/model"
	"skincare-service/rules"
)

// ErrModelsUnavailable is reported when no model handle could be loaded.
var ErrModelsUnavailable = errors.New("models unavailable")

// State is the lifecycle of the model handles.
type State int

const (
	StateUnloaded State = iota
	// StateLoaded means at least one handle is present.
	StateLoaded
	// StateFailed means a load ran and produced no handles.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Loader produces model handles. *model.Registry satisfies it.
type Loader interface {
	LoadAll(ctx context.Context) (*model.Handles, model.LoadReport)
	Paths() map[model.Kind]string
}

// Summary condenses the three predictions.
type Summary struct {
	SkinType              string `json:"skin_type"`
	Disease               string `json:"disease"`
	State                 string `json:"state"`
	NeedsMedicalAttention bool   `json:"needs_medical_attention"`
}

// Failure classifies an unsuccessful analysis for the transports.
type Failure string

const (
	FailureModelsUnavailable Failure = "models_unavailable"
	FailureInvalidImage      Failure = "invalid_image"
	FailureCanceled          Failure = "canceled"
	FailureDeadline          Failure = "deadline_exceeded"
	FailureInternal          Failure = "internal"
)

// Analysis is the outcome of one Analyze call. On failure only Success,
// Error and Failure are set.
type Analysis struct {
	Success         bool              `json:"success"`
	Error           string            `json:"error,omitempty"`
	Failure         Failure           `json:"-"`
	SkinType        *inference.Result `json:"skin_type,omitempty"`
	SkinDisease     *inference.Result `json:"skin_disease,omitempty"`
	SkinState       *inference.Result `json:"skin_state,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Summary         *Summary          `json:"summary,omitempty"`
	AnalyzedAt      time.Time         `json:"analyzed_at"`
}

func failed(kind Failure, msg string) Analysis {
	return Analysis{Success: false, Error: msg, Failure: kind, AnalyzedAt: time.Now()}
}

func failedWith(err error) Analysis {
	kind := FailureInternal
	switch {
	case errors.Is(err, ErrModelsUnavailable):
		kind = FailureModelsUnavailable
	case errors.Is(err, imaging.ErrDecode):
		kind = FailureInvalidImage
	case errors.Is(err, context.Canceled):
		kind = FailureCanceled
	case errors.Is(err, context.DeadlineExceeded):
		kind = FailureDeadline
	}
	return failed(kind, err.Error())
}

// Status describes the loaded models.
type Status struct {
	State           string                `json:"state"`
	ModelsLoaded    bool                  `json:"models_loaded"`
	AvailableModels map[model.Kind]bool   `json:"available_models"`
	ModelPaths      map[model.Kind]string `json:"model_paths"`
	Report          model.LoadReport      `json:"report"`
	LoadedAt        *time.Time            `json:"loaded_at,omitempty"`
}

// Options configure input sizes for the two model families.
type Options struct {
	ClassifierInput int
	DetectorInput   int
}

// AnalysisService owns the model handles and runs the analysis pipeline.
type AnalysisService struct {
	loader     Loader
	normalizer *inference.Normalizer
	opts       Options
	logger     zerolog.Logger

	loadMu sync.Mutex // serializes Load and Reload

	mu       sync.RWMutex // guards the fields below; held for reading during inference
	handles  *model.Handles
	report   model.LoadReport
	state    State
	loadedAt time.Time
}

func NewAnalysisService(loader Loader, normalizer *inference.Normalizer, opts Options, logger zerolog.Logger) *AnalysisService {
	if opts.ClassifierInput <= 0 {
		opts.ClassifierInput = 224
	}
	if opts.DetectorInput <= 0 {
		opts.DetectorInput = 640
	}
	return &AnalysisService{
		loader:     loader,
		normalizer: normalizer,
		opts:       opts,
		logger:     logger.With().Str("component", "analysis_service").Logger(),
	}
}

// Load loads the models unless a previous load produced handles. A failed
// load is retried on the next call. Concurrent callers wait for the first load.
func (s *AnalysisService) Load(ctx context.Context) error {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == StateLoaded {
		return nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.RLock()
	state = s.state
	s.mu.RUnlock()
	if state == StateLoaded {
		return nil
	}
	return s.swap(ctx)
}

// Reload replaces the handles with a fresh load. In-flight analyses finish
// on the old handles, which are closed afterwards.
func (s *AnalysisService) Reload(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	metrics.ModelReloads.Inc()
	return s.swap(ctx)
}

// swap must be called with loadMu held.
func (s *AnalysisService) swap(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	handles, report := s.loader.LoadAll(ctx)

	state := StateLoaded
	if handles.Count() == 0 {
		state = StateFailed
	}

	s.mu.Lock()
	old := s.handles
	s.handles, s.report, s.state, s.loadedAt = handles, report, state, time.Now()
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close previous model handles")
		}
	}

	metrics.SetModelStatus(string(model.KindDisease), report.Disease.Present, report.Disease.Degraded)
	metrics.SetModelStatus(string(model.KindState), report.State.Present, report.State.Degraded)
	metrics.SetModelStatus(string(model.KindType), report.Type.Present, report.Type.Degraded)

	s.logger.Info().
		Str("state", state.String()).
		Int("handles", handles.Count()).
		Bool("all_loaded", report.AllLoaded).
		Msg("models loaded")

	if state == StateFailed {
		return ErrModelsUnavailable
	}
	return nil
}

// IsReady reports whether at least one model is loaded.
func (s *AnalysisService) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateLoaded
}

func (s *AnalysisService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:        s.state.String(),
		ModelsLoaded: s.report.AllLoaded,
		AvailableModels: map[model.Kind]bool{
			model.KindDisease: s.report.Disease.Present,
			model.KindState:   s.report.State.Present,
			model.KindType:    s.report.Type.Present,
		},
		ModelPaths: s.loader.Paths(),
		Report:     s.report,
	}
	if !s.loadedAt.IsZero() {
		t := s.loadedAt
		st.LoadedAt = &t
	}
	return st
}

// Analyze runs the three models on raw and applies the care rules. It never
// panics and never returns an error; failures are reported in the Analysis.
func (s *AnalysisService) Analyze(ctx context.Context, raw []byte) (result Analysis) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("analysis panicked")
			result = failed(FailureInternal, fmt.Sprintf("analysis failed: %v", r))
		}
		metrics.RecordAnalysis(result.Success, time.Since(start))
	}()

	if err := s.Load(ctx); err != nil && !errors.Is(err, ErrModelsUnavailable) {
		return failedWith(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.handles
	if h.Count() == 0 {
		return failedWith(ErrModelsUnavailable)
	}

	img, _, err := imaging.Decode(raw)
	if err != nil {
		return failedWith(err)
	}

	var typeOut, diseaseOut, stateOut inference.Outcome

	stages := []func(){
		func() {
			t := imaging.FromImage(img, image.Pt(s.opts.ClassifierInput, s.opts.ClassifierInput))
			typeOut = s.observe(model.KindType, func() inference.Outcome {
				return s.normalizer.PredictClassifier(t, h.Type, inference.SkinTypeLabels)
			})
		},
		func() {
			t := imaging.FromImage(img, image.Pt(s.opts.DetectorInput, s.opts.DetectorInput))
			diseaseOut = s.observe(model.KindDisease, func() inference.Outcome {
				return s.normalizer.PredictDetector(t, h.Disease, detectorLabels(h.Disease, inference.DiseaseLabels), inference.HealthyDisease)
			})
			stateOut = s.observe(model.KindState, func() inference.Outcome {
				return s.normalizer.PredictDetector(t, h.State, detectorLabels(h.State, inference.StateLabels), inference.HealthyState)
			})
		},
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return failedWith(err)
		}
		stage()
	}

	skinType, disease, state := typeOut.Result(), diseaseOut.Result(), stateOut.Result()
	return Analysis{
		Success:         true,
		SkinType:        &skinType,
		SkinDisease:     &disease,
		SkinState:       &state,
		Recommendations: rules.Recommend(skinType.Label, disease.Label, state.Label),
		Summary: &Summary{
			SkinType:              skinType.Label,
			Disease:               disease.Label,
			State:                 state.Label,
			NeedsMedicalAttention: rules.NeedsMedicalAttention(disease.Label),
		},
		AnalyzedAt: time.Now(),
	}
}

func (s *AnalysisService) observe(kind model.Kind, run func() inference.Outcome) inference.Outcome {
	start := time.Now()
	out := run()
	metrics.RecordInference(string(kind), time.Since(start), out.Err())
	if err := out.Err(); err != nil && !errors.Is(err, model.ErrModelUnavailable) {
		s.logger.Warn().Err(err).Str("model", string(kind)).Msg("inference failed")
	}
	return out
}

func detectorLabels(det model.Detector, defaults inference.LabelSet) inference.LabelSet {
	if det == nil {
		return defaults
	}
	return inference.WithModelNames(defaults, det.ClassNames())
}

// Close releases the model handles.
func (s *AnalysisService) Close() error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.handles.Close()
	s.handles = nil
	s.state = StateUnloaded
	return err
}
