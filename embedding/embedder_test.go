package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "지성 피부 / 민감도: 높음", NormalizeText("  지성   피부\t/ 민감도:\n높음 "))
	// full-width forms fold under NFKC
	assert.Equal(t, "ABC 123", NormalizeText("ＡＢＣ　１２３"))
}

func TestL2Normalize(t *testing.T) {
	v := L2Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := L2Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestMeanPoolHonorsMask(t *testing.T) {
	hidden := []float32{
		1, 2,
		3, 4,
		100, 100, // padding
	}
	got := MeanPool(hidden, 3, 2, []int64{1, 1, 0})
	assert.Equal(t, []float32{2, 3}, got)

	assert.Equal(t, []float32{0, 0}, MeanPool(hidden, 3, 2, []int64{0, 0, 0}))
}

type fakeModels struct {
	calls int
	dims  int
	err   error
	short bool
	tasks []string
}

func (f *fakeModels) EmbedContent(_ context.Context, _ string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.calls++
	if config != nil {
		f.tasks = append(f.tasks, config.TaskType)
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &genai.EmbedContentResponse{}
	n := len(contents)
	if f.short {
		n--
	}
	for i := 0; i < n; i++ {
		vals := make([]float32, f.dims)
		vals[i%f.dims] = float32(i + 2)
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: vals})
	}
	return resp, nil
}

func TestGeminiEmbedder(t *testing.T) {
	fake := &fakeModels{dims: 3}
	g := &GeminiEmbedder{models: fake, model: "text-embedding-004"}

	vecs, err := g.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0}, vecs[1])
	assert.Equal(t, "gemini/text-embedding-004", g.ModelID())

	vec, err := g.EmbedText(context.Background(), "c")
	require.NoError(t, err)
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestGeminiEmbedderErrors(t *testing.T) {
	g := &GeminiEmbedder{models: &fakeModels{err: errors.New("quota")}, model: "m"}
	_, err := g.EmbedText(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrEmbedding))

	g = &GeminiEmbedder{models: &fakeModels{dims: 2, short: true}, model: "m"}
	_, err = g.EmbedTexts(context.Background(), []string{"x", "y"})
	assert.True(t, errors.Is(err, ErrEmbedding))
}

func TestGeminiEmbedderTaskType(t *testing.T) {
	query := &fakeModels{dims: 2}
	g := &GeminiEmbedder{models: query, model: "m"}
	_, err := g.EmbedText(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{TaskRetrievalQuery}, query.tasks)

	docs := &fakeModels{dims: 2}
	g = &GeminiEmbedder{models: docs, model: "m", task: TaskRetrievalDocument}
	_, err = g.EmbedTexts(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{TaskRetrievalDocument}, docs.tasks)
}
