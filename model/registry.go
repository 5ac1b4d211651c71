package model

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Kind names one of the three analysis models.
type Kind string

const (
	KindDisease Kind = "disease"
	KindState   Kind = "state"
	KindType    Kind = "type"
)

// Handles is an immutable set of loaded models. Absent models are nil.
type Handles struct {
	Disease Detector
	State   Detector
	Type    Classifier
}

// Count returns how many handles are present.
func (h *Handles) Count() int {
	if h == nil {
		return 0
	}
	n := 0
	if h.Disease != nil {
		n++
	}
	if h.State != nil {
		n++
	}
	if h.Type != nil {
		n++
	}
	return n
}

// Close releases every present handle.
func (h *Handles) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.Disease != nil {
		errs = append(errs, h.Disease.Close())
	}
	if h.State != nil {
		errs = append(errs, h.State.Close())
	}
	if h.Type != nil {
		errs = append(errs, h.Type.Close())
	}
	return errors.Join(errs...)
}

// ModelStatus reports the outcome of loading one model.
type ModelStatus struct {
	Present  bool     `json:"present"`
	Path     string   `json:"path"`
	Strategy string   `json:"strategy,omitempty"`
	Degraded bool     `json:"degraded"`
	Labels   []string `json:"labels,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// LoadReport summarizes a LoadAll call.
type LoadReport struct {
	Disease   ModelStatus `json:"disease"`
	State     ModelStatus `json:"state"`
	Type      ModelStatus `json:"type"`
	AllLoaded bool        `json:"all_loaded"`
}

// RegistryConfig holds model paths and loading parameters.
type RegistryConfig struct {
	RuntimeLibrary string
	DiseasePath    string
	StatePath      string
	TypePath       string
	Detector       DetectorOptions
	Classifier     ClassifierConfig
}

// DetectorLoader opens a detector from a model file.
type DetectorLoader func(path string) (Detector, error)

// Registry loads the three models. It holds no handles itself; callers own
// the returned Handles.
type Registry struct {
	cfg          RegistryConfig
	loadDetector DetectorLoader
	strategies   []ClassifierStrategy
	fileExists   func(string) bool
	logger       zerolog.Logger
}

type Option func(*Registry)

// WithDetectorLoader replaces the ONNX detector loader.
func WithDetectorLoader(l DetectorLoader) Option {
	return func(r *Registry) { r.loadDetector = l }
}

// WithStrategies replaces the classifier load cascade.
func WithStrategies(s []ClassifierStrategy) Option {
	return func(r *Registry) { r.strategies = s }
}

// WithFileCheck replaces the model file existence check.
func WithFileCheck(f func(string) bool) Option {
	return func(r *Registry) { r.fileExists = f }
}

func NewRegistry(cfg RegistryConfig, logger zerolog.Logger, opts ...Option) *Registry {
	cfg.Classifier.RuntimeLibrary = cfg.RuntimeLibrary
	r := &Registry{
		cfg:        cfg,
		strategies: DefaultStrategies(cfg.Classifier),
		fileExists: fileExists,
		logger:     logger.With().Str("component", "model_registry").Logger(),
	}
	r.loadDetector = func(path string) (Detector, error) {
		if err := EnsureRuntime(cfg.RuntimeLibrary); err != nil {
			return nil, err
		}
		return NewONNXDetector(path, cfg.Detector)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Paths returns the configured model file per kind.
func (r *Registry) Paths() map[Kind]string {
	return map[Kind]string{
		KindDisease: r.cfg.DiseasePath,
		KindState:   r.cfg.StatePath,
		KindType:    r.cfg.TypePath,
	}
}

// LoadAll loads every model independently. A failed model leaves its handle
// nil and is described in the report; it never aborts the other loads.
func (r *Registry) LoadAll(ctx context.Context) (*Handles, LoadReport) {
	h := &Handles{}
	var report LoadReport

	var det Detector
	det, report.Disease = r.detector(ctx, KindDisease, r.cfg.DiseasePath)
	if det != nil {
		h.Disease = det
	}
	det, report.State = r.detector(ctx, KindState, r.cfg.StatePath)
	if det != nil {
		h.State = det
	}
	var clf Classifier
	clf, report.Type = r.classifier(ctx, r.cfg.TypePath)
	if clf != nil {
		h.Type = clf
	}

	report.AllLoaded = h.Count() == 3
	r.logger.Info().
		Bool("disease", report.Disease.Present).
		Bool("state", report.State.Present).
		Bool("type", report.Type.Present).
		Bool("type_degraded", report.Type.Degraded).
		Msg("model load finished")
	return h, report
}

func (r *Registry) detector(ctx context.Context, kind Kind, path string) (Detector, ModelStatus) {
	status := ModelStatus{Path: path}
	if err := r.precheck(ctx, path); err != nil {
		status.Err = err.Error()
		r.logger.Warn().Err(err).Str("model", string(kind)).Msg("model not loaded")
		return nil, status
	}

	det, err := r.loadDetector(path)
	if err != nil {
		status.Err = fmt.Errorf("%w: %w", ErrModelUnavailable, err).Error()
		r.logger.Warn().Err(err).Str("model", string(kind)).Msg("detector load failed")
		return nil, status
	}

	status.Present = true
	status.Strategy = "detector"
	status.Labels = det.ClassNames()
	return det, status
}

func (r *Registry) classifier(ctx context.Context, path string) (Classifier, ModelStatus) {
	status := ModelStatus{Path: path}
	if err := r.precheck(ctx, path); err != nil {
		status.Err = err.Error()
		r.logger.Warn().Err(err).Str("model", string(KindType)).Msg("model not loaded")
		return nil, status
	}

	clf, strategy, err := LoadClassifier(path, r.strategies)
	if err != nil {
		status.Err = err.Error()
		r.logger.Warn().Err(err).Str("model", string(KindType)).Msg("classifier load failed")
		return nil, status
	}

	status.Present = true
	status.Strategy = strategy.Name
	status.Degraded = strategy.Degraded
	if strategy.Degraded {
		r.logger.Warn().Str("model", string(KindType)).Str("strategy", strategy.Name).
			Msg("classifier loaded without trained weights")
	}
	return clf, status
}

func (r *Registry) precheck(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("no model path configured: %w", ErrModelUnavailable)
	}
	if !r.fileExists(path) {
		return fmt.Errorf("model file %s not found: %w", path, ErrModelUnavailable)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
