package embedding

import (
	"fmt"

	"google.golang.org/genai"
)

// Options select and configure a backend.
type Options struct {
	// Provider is onnx or gemini.
	Provider       string
	RuntimeLibrary string
	ModelPath      string
	TokenizerPath  string
	MaxSeqLen      int
	GeminiModel    string
	// GeminiTask is the gemini task type, TaskRetrievalQuery when empty.
	GeminiTask string
	// Client is required for the gemini provider.
	Client *genai.Client
}

// New builds the configured backend without a cache.
func New(opts Options) (Embedder, error) {
	switch opts.Provider {
	case "", "onnx":
		return NewONNXEmbedder(ONNXConfig{
			RuntimeLibrary: opts.RuntimeLibrary,
			ModelPath:      opts.ModelPath,
			TokenizerPath:  opts.TokenizerPath,
			MaxSeqLen:      opts.MaxSeqLen,
		})
	case "gemini":
		if opts.Client == nil {
			return nil, fmt.Errorf("%w: gemini provider needs an API client", ErrEmbedding)
		}
		return NewGeminiEmbedder(opts.Client, opts.GeminiModel, opts.GeminiTask), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", opts.Provider)
	}
}
