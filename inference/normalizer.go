package inference

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"skincare-service/imaging"
	"skincare-service/model"
)

// Normalizer runs a model and shapes its raw output into a Result.
type Normalizer struct {
	translations TranslationTable
	logger       zerolog.Logger
}

func NewNormalizer(translations TranslationTable, logger zerolog.Logger) *Normalizer {
	if translations == nil {
		translations = DefaultTranslations
	}
	return &Normalizer{
		translations: translations,
		logger:       logger.With().Str("component", "normalizer").Logger(),
	}
}

// PredictClassifier takes the argmax of the class probabilities; the first
// maximum wins. An index past the label set yields Unknown.
func (n *Normalizer) PredictClassifier(t *imaging.Tensor, clf model.Classifier, labels LabelSet) (out Outcome) {
	if clf == nil {
		return Fail(KindModelUnavailable, model.ErrModelUnavailable)
	}
	defer n.recoverInto(&out, "classifier")

	input, _ := t.Batch()
	probs, err := clf.Predict(input)
	if err != nil {
		return Fail(KindInferenceError, fmt.Errorf("%w: %w", ErrInference, err))
	}
	if len(probs) == 0 {
		return Fail(KindInferenceError, fmt.Errorf("%w: empty probability vector", ErrInference))
	}

	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}

	label := Unknown
	if l, ok := labels.Lookup(best); ok {
		label = n.translations.Translate(l)
	}

	detail := make([]DetailEntry, 0, min(len(probs), len(labels)))
	for i := 0; i < len(probs) && i < len(labels); i++ {
		detail = append(detail, DetailEntry{Label: n.translations.Translate(labels[i]), Value: float64(probs[i])})
	}

	return Ok(Result{Label: label, Confidence: float64(probs[best]), Detail: detail})
}

// PredictDetector reports the strongest box; the first box with the maximum
// confidence wins. No boxes means the healthy label at NoDetectionConfidence.
// Detail counts every box by translated label in scan order.
func (n *Normalizer) PredictDetector(t *imaging.Tensor, det model.Detector, labels LabelSet, healthy string) (out Outcome) {
	if det == nil {
		return Fail(KindModelUnavailable, model.ErrModelUnavailable)
	}
	defer n.recoverInto(&out, "detector")

	dets, err := det.Detect(t.ToImage())
	if err != nil {
		return Fail(KindInferenceError, fmt.Errorf("%w: %w", ErrInference, err))
	}
	if len(dets) == 0 {
		return Ok(Result{Label: healthy, Confidence: NoDetectionConfidence, Detail: []DetailEntry{}})
	}

	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Confidence > dets[best].Confidence {
			best = i
		}
	}

	var detail []DetailEntry
	pos := make(map[string]int)
	for _, d := range dets {
		label := n.detectionLabel(d.ClassIndex, labels)
		if i, ok := pos[label]; ok {
			detail[i].Value++
			continue
		}
		pos[label] = len(detail)
		detail = append(detail, DetailEntry{Label: label, Value: 1})
	}

	primary := Unknown
	if l, ok := labels.Lookup(dets[best].ClassIndex); ok {
		primary = n.translations.Translate(l)
	}

	return Ok(Result{
		Label:           primary,
		Confidence:      float64(dets[best].Confidence),
		Detail:          detail,
		DetectionsCount: len(dets),
	})
}

func (n *Normalizer) detectionLabel(idx int, labels LabelSet) string {
	if l, ok := labels.Lookup(idx); ok {
		return n.translations.Translate(l)
	}
	return "class_" + strconv.Itoa(idx)
}

func (n *Normalizer) recoverInto(out *Outcome, kind string) {
	if r := recover(); r != nil {
		n.logger.Error().Interface("panic", r).Str("model_kind", kind).Msg("model panicked during inference")
		*out = Fail(KindInferenceError, fmt.Errorf("%w: panic: %v", ErrInference, r))
	}
}
