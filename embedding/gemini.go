package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// contentEmbedder is the part of *genai.Models used here.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Gemini task types. Stored reviews are embedded as documents, search text
// as queries.
const (
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// GeminiEmbedder calls the Gemini embedding endpoint.
type GeminiEmbedder struct {
	models contentEmbedder
	model  string
	task   string
}

// NewGeminiEmbedder wraps client.Models. An empty task means
// TaskRetrievalQuery.
func NewGeminiEmbedder(client *genai.Client, model, task string) *GeminiEmbedder {
	return &GeminiEmbedder{models: client.Models, model: model, task: task}
}

func (g *GeminiEmbedder) taskType() string {
	if g.task == "" {
		return TaskRetrievalQuery
	}
	return g.task
}

func (g *GeminiEmbedder) ModelID() string { return "gemini/" + g.model }

func (g *GeminiEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts sends all texts in one request.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(NormalizeText(t), genai.RoleUser)
	}

	resp, err := g.models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType: g.taskType(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %w", ErrEmbedding, err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("%w: gemini returned %d embeddings for %d texts", ErrEmbedding, got, len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = L2Normalize(cloneVector(e.Values))
	}
	return out, nil
}

func (g *GeminiEmbedder) Close() error { return nil }
