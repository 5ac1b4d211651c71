package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"skincare-service/model"
)

// ONNXConfig configures a local sentence encoder.
type ONNXConfig struct {
	RuntimeLibrary string
	ModelPath      string
	TokenizerPath  string
	MaxSeqLen      int
	ModelID        string
}

// ONNXEmbedder runs a transformer encoder exported to ONNX and mean-pools its
// last hidden state into a unit vector.
type ONNXEmbedder struct {
	mu         sync.Mutex
	tk         *tokenizer.Tokenizer
	session    *ort.DynamicAdvancedSession
	inputNames []string
	maxSeqLen  int
	modelID    string
}

// NewONNXEmbedder loads the tokenizer.json and binds a session to the
// encoder's inputs (input_ids, attention_mask and, when declared,
// token_type_ids).
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 128
	}
	if cfg.ModelID == "" {
		cfg.ModelID = filepath.Base(filepath.Dir(cfg.ModelPath)) + "/" + filepath.Base(cfg.ModelPath)
	}

	if err := model.EnsureRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read encoder io info: %w", err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("encoder %s declares no outputs", cfg.ModelPath)
	}
	names := make([]string, 0, len(inputs))
	for _, in := range inputs {
		switch in.Name {
		case "input_ids", "attention_mask", "token_type_ids":
			names = append(names, in.Name)
		}
	}
	if len(names) < 2 {
		return nil, fmt.Errorf("encoder %s lacks input_ids/attention_mask inputs", cfg.ModelPath)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, names, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("create encoder session: %w", err)
	}

	return &ONNXEmbedder{
		tk:         tk,
		session:    session,
		inputNames: names,
		maxSeqLen:  cfg.MaxSeqLen,
		modelID:    cfg.ModelID,
	}, nil
}

func (e *ONNXEmbedder) ModelID() string { return e.modelID }

// EmbedText encodes one string.
func (e *ONNXEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("%w: encoder is closed", ErrEmbedding)
	}

	enc, err := e.tk.EncodeSingle(NormalizeText(text), true)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenize: %w", ErrEmbedding, err)
	}

	ids, mask, types := toInt64(enc.Ids), toInt64(enc.AttentionMask), toInt64(enc.TypeIds)
	if len(ids) > e.maxSeqLen {
		ids, mask = ids[:e.maxSeqLen], mask[:e.maxSeqLen]
	}
	if len(types) != len(ids) {
		types = make([]int64, len(ids))
	}
	seq := int64(len(ids))
	shape := ort.NewShape(1, seq)

	byName := map[string][]int64{"input_ids": ids, "attention_mask": mask, "token_type_ids": types}
	inputs := make([]ort.Value, 0, len(e.inputNames))
	defer func() {
		for _, in := range inputs {
			_ = in.Destroy()
		}
	}()
	for _, name := range e.inputNames {
		t, err := ort.NewTensor(shape, byName[name])
		if err != nil {
			return nil, fmt.Errorf("%w: create %s tensor: %w", ErrEmbedding, name, err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	if err := e.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("%w: run encoder: %w", ErrEmbedding, err)
	}
	defer outputs[0].Destroy()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected encoder output %T", ErrEmbedding, outputs[0])
	}
	outShape := hidden.GetShape()
	switch len(outShape) {
	case 3: // [1, tokens, hidden]
		vec := MeanPool(hidden.GetData(), int(outShape[1]), int(outShape[2]), mask)
		return L2Normalize(vec), nil
	case 2: // already pooled [1, hidden]
		return L2Normalize(cloneVector(hidden.GetData())), nil
	default:
		return nil, fmt.Errorf("%w: unexpected encoder output shape %v", ErrEmbedding, outShape)
	}
}

// EmbedTexts embeds a slice of strings sequentially.
func (e *ONNXEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.EmbedText(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
