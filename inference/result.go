package inference

import (
	"errors"
	"fmt"
)

// ErrInference is matched by failures raised while running a model.
var ErrInference = errors.New("inference failed")

// ErrorKind classifies a failed prediction.
type ErrorKind int

const (
	KindModelUnavailable ErrorKind = iota + 1
	KindInferenceError
)

func (k ErrorKind) String() string {
	switch k {
	case KindModelUnavailable:
		return "model_unavailable"
	case KindInferenceError:
		return "inference_error"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Failure describes why a prediction produced no result.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	err     error
}

func (f *Failure) Error() string { return f.Kind.String() + ": " + f.Message }

func (f *Failure) Unwrap() error { return f.err }

// DetailEntry is one label with its probability (classifier) or box count (detector).
type DetailEntry struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Result is the normalized output of one model.
type Result struct {
	Label           string        `json:"label"`
	Confidence      float64       `json:"confidence"`
	Detail          []DetailEntry `json:"detail"`
	DetectionsCount int           `json:"detections_count"`
	Err             *Failure      `json:"error,omitempty"`
}

// DetailMap flattens Detail, for callers that persist it as an object.
func (r Result) DetailMap() map[string]float64 {
	m := make(map[string]float64, len(r.Detail))
	for _, d := range r.Detail {
		m[d.Label] = d.Value
	}
	return m
}

// UnknownResult is the displayable shape of a failed prediction.
func UnknownResult(f *Failure) Result {
	return Result{Label: Unknown, Detail: []DetailEntry{}, Err: f}
}

// Outcome is either a Result or a Failure.
type Outcome struct {
	result  Result
	failure *Failure
}

// Ok wraps a successful result.
func Ok(r Result) Outcome {
	return Outcome{result: r}
}

// Fail wraps err as a failure of the given kind.
func Fail(kind ErrorKind, err error) Outcome {
	return Outcome{failure: &Failure{Kind: kind, Message: err.Error(), err: err}}
}

// IsOk reports whether the prediction succeeded.
func (o Outcome) IsOk() bool { return o.failure == nil }

// Value returns the result and true on success.
func (o Outcome) Value() (Result, bool) {
	if o.failure != nil {
		return Result{}, false
	}
	return o.result, true
}

// Err returns the failure, or nil on success.
func (o Outcome) Err() error {
	if o.failure == nil {
		return nil
	}
	return o.failure
}

// Result always returns something displayable: the prediction on success,
// the unknown shape carrying the failure otherwise.
func (o Outcome) Result() Result {
	if o.failure != nil {
		return UnknownResult(o.failure)
	}
	return o.result
}
