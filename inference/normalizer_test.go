package inference

import (
	"errors"
	"image"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skincare-service/imaging"
	"skincare-service/model"
)

type fakeClassifier struct {
	probs []float32
	err   error
	panic bool
}

func (f *fakeClassifier) Predict([]float32) ([]float32, error) {
	if f.panic {
		panic("shape mismatch")
	}
	return f.probs, f.err
}
func (f *fakeClassifier) NumClasses() int { return len(f.probs) }
func (f *fakeClassifier) Close() error    { return nil }

type fakeDetector struct {
	dets []model.Detection
	err  error
}

func (f *fakeDetector) Detect(image.Image) ([]model.Detection, error) { return f.dets, f.err }
func (f *fakeDetector) ClassNames() []string                          { return nil }
func (f *fakeDetector) Close() error                                  { return nil }

func tensor() *imaging.Tensor {
	return &imaging.Tensor{Data: make([]float32, 4*4*3), Height: 4, Width: 4}
}

func newNormalizer() *Normalizer {
	return NewNormalizer(nil, zerolog.Nop())
}

func TestPredictClassifierArgmax(t *testing.T) {
	out := newNormalizer().PredictClassifier(tensor(), &fakeClassifier{probs: []float32{0.1, 0.6, 0.2, 0.05, 0.05}}, SkinTypeLabels)

	r, ok := out.Value()
	require.True(t, ok)
	assert.Equal(t, "지성", r.Label)
	assert.InDelta(t, 0.6, r.Confidence, 1e-6)
	require.Len(t, r.Detail, 5)
	assert.Equal(t, "건성", r.Detail[0].Label)
	assert.Equal(t, "정상", r.Detail[4].Label)
}

func TestPredictClassifierFirstMaxWins(t *testing.T) {
	out := newNormalizer().PredictClassifier(tensor(), &fakeClassifier{probs: []float32{0.4, 0.4, 0.2}}, SkinTypeLabels)
	assert.Equal(t, "건성", out.Result().Label)
}

func TestPredictClassifierIndexPastLabels(t *testing.T) {
	out := newNormalizer().PredictClassifier(tensor(), &fakeClassifier{probs: []float32{0.1, 0.2, 0.7}}, LabelSet{"dry", "oily"})

	r := out.Result()
	assert.Equal(t, Unknown, r.Label)
	// detail only covers indices within both bounds
	assert.Equal(t, []DetailEntry{{"건성", float64(float32(0.1))}, {"지성", float64(float32(0.2))}}, r.Detail)
}

func TestPredictClassifierFailures(t *testing.T) {
	n := newNormalizer()

	out := n.PredictClassifier(tensor(), nil, SkinTypeLabels)
	assert.False(t, out.IsOk())
	assert.True(t, errors.Is(out.Err(), model.ErrModelUnavailable))
	assert.Equal(t, Unknown, out.Result().Label)
	assert.Equal(t, KindModelUnavailable, out.Result().Err.Kind)

	out = n.PredictClassifier(tensor(), &fakeClassifier{err: errors.New("ort failure")}, SkinTypeLabels)
	assert.True(t, errors.Is(out.Err(), ErrInference))
	assert.Equal(t, KindInferenceError, out.Result().Err.Kind)

	out = n.PredictClassifier(tensor(), &fakeClassifier{panic: true}, SkinTypeLabels)
	assert.True(t, errors.Is(out.Err(), ErrInference))
	assert.Contains(t, out.Err().Error(), "shape mismatch")
}

func TestPredictDetectorNoBoxes(t *testing.T) {
	n := newNormalizer()

	r := n.PredictDetector(tensor(), &fakeDetector{}, DiseaseLabels, HealthyDisease).Result()
	assert.Equal(t, "정상", r.Label)
	assert.Equal(t, 0.8, r.Confidence)
	assert.Zero(t, r.DetectionsCount)
	assert.Nil(t, r.Err)

	r = n.PredictDetector(tensor(), &fakeDetector{}, StateLabels, HealthyState).Result()
	assert.Equal(t, "양호", r.Label)
	assert.Equal(t, 0.8, r.Confidence)
}

func TestPredictDetectorTieBreakAndCounts(t *testing.T) {
	dets := []model.Detection{
		{ClassIndex: 3, Confidence: 0.3},
		{ClassIndex: 1, Confidence: 0.9},
		{ClassIndex: 2, Confidence: 0.9},
	}
	r := newNormalizer().PredictDetector(tensor(), &fakeDetector{dets: dets}, DiseaseLabels, HealthyDisease).Result()

	assert.Equal(t, "여드름", r.Label)
	assert.InDelta(t, 0.9, r.Confidence, 1e-6)
	assert.Equal(t, 3, r.DetectionsCount)
	assert.Equal(t, []DetailEntry{{"습진", 1}, {"여드름", 1}, {"아토피", 1}}, r.Detail)
}

func TestPredictDetectorCountsRepeatsAndUnknownClasses(t *testing.T) {
	dets := []model.Detection{
		{ClassIndex: 9, Confidence: 0.95},
		{ClassIndex: 1, Confidence: 0.5},
		{ClassIndex: 1, Confidence: 0.4},
	}
	r := newNormalizer().PredictDetector(tensor(), &fakeDetector{dets: dets}, DiseaseLabels, HealthyDisease).Result()

	assert.Equal(t, Unknown, r.Label)
	assert.Equal(t, []DetailEntry{{"class_9", 1}, {"여드름", 2}}, r.Detail)
}

func TestPredictDetectorTranslatesModelNames(t *testing.T) {
	dets := []model.Detection{{ClassIndex: 1, Confidence: 0.92}}
	labels := WithModelNames(DiseaseLabels, []string{"normal", "acne"})

	r := newNormalizer().PredictDetector(tensor(), &fakeDetector{dets: dets}, labels, HealthyDisease).Result()
	assert.Equal(t, "여드름", r.Label)
}

func TestPredictDetectorFailure(t *testing.T) {
	n := newNormalizer()

	out := n.PredictDetector(tensor(), nil, DiseaseLabels, HealthyDisease)
	assert.True(t, errors.Is(out.Err(), model.ErrModelUnavailable))

	out = n.PredictDetector(tensor(), &fakeDetector{err: errors.New("run failed")}, DiseaseLabels, HealthyDisease)
	assert.True(t, errors.Is(out.Err(), ErrInference))
	assert.Equal(t, Unknown, out.Result().Label)
}

func TestOutcomeAccessors(t *testing.T) {
	ok := Ok(Result{Label: "지성", Confidence: 0.7})
	assert.True(t, ok.IsOk())
	assert.NoError(t, ok.Err())

	failed := Fail(KindInferenceError, errors.New("boom"))
	_, present := failed.Value()
	assert.False(t, present)
	assert.Equal(t, "inference_error: boom", failed.Err().Error())
	assert.Equal(t, map[string]float64{}, failed.Result().DetailMap())
}
