package model

import "fmt"

// ClassifierStrategy is one way of turning a model file into a Classifier.
type ClassifierStrategy struct {
	Name string
	// Degraded marks strategies whose classifier carries no trained weights.
	Degraded bool
	Load     func(path string) (Classifier, error)
}

// ClassifierConfig describes the skin type classifier.
type ClassifierConfig struct {
	RuntimeLibrary string
	InputName      string
	OutputName     string
	InputSize      int
	Classes        int
	Seed           uint64
}

// DefaultStrategies returns the load cascade, tried in order:
// native node names, introspected node names, dynamic session, untrained.
func DefaultStrategies(cfg ClassifierConfig) []ClassifierStrategy {
	withRuntime := func(load func(string) (Classifier, error)) func(string) (Classifier, error) {
		return func(path string) (Classifier, error) {
			if err := EnsureRuntime(cfg.RuntimeLibrary); err != nil {
				return nil, err
			}
			return load(path)
		}
	}

	return []ClassifierStrategy{
		{
			Name: "native",
			Load: withRuntime(func(path string) (Classifier, error) {
				return NewONNXClassifier(path, SessionSpec{
					InputName:   cfg.InputName,
					OutputName:  cfg.OutputName,
					InputShape:  []int64{1, int64(cfg.InputSize), int64(cfg.InputSize), Channels},
					OutputShape: []int64{1, int64(cfg.Classes)},
				})
			}),
		},
		{
			Name: "introspect",
			Load: withRuntime(func(path string) (Classifier, error) {
				spec, err := InspectClassifier(path, cfg.InputSize, cfg.Classes)
				if err != nil {
					return nil, err
				}
				return NewONNXClassifier(path, spec)
			}),
		},
		{
			Name: "dynamic",
			Load: withRuntime(func(path string) (Classifier, error) {
				return NewDynamicClassifier(path, cfg.InputSize, cfg.Classes)
			}),
		},
		{
			Name:     "untrained",
			Degraded: true,
			Load: func(string) (Classifier, error) {
				return NewUntrainedClassifier(cfg.Classes, cfg.Seed)
			},
		},
	}
}

// LoadClassifier tries each strategy in order and returns the first success.
func LoadClassifier(path string, strategies []ClassifierStrategy) (Classifier, ClassifierStrategy, error) {
	var errs []error
	for _, s := range strategies {
		clf, err := s.Load(path)
		if err == nil {
			return clf, s, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return nil, ClassifierStrategy{}, fmt.Errorf("all classifier strategies failed %v: %w", errs, ErrModelUnavailable)
}
