package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// SessionSpec names the graph nodes and fixed tensor shapes of a classifier.
type SessionSpec struct {
	InputName   string
	OutputName  string
	InputShape  []int64 // NHWC, e.g. [1, 224, 224, 3]
	OutputShape []int64 // [1, classes]
}

func (s SessionSpec) inputSize() int64 {
	return shapeSize(s.InputShape)
}

func (s SessionSpec) validate() error {
	if s.InputName == "" || s.OutputName == "" {
		return fmt.Errorf("input and output node names are required")
	}
	if len(s.InputShape) != 4 {
		return fmt.Errorf("input shape must be NHWC, got %v", s.InputShape)
	}
	if len(s.OutputShape) != 2 || s.OutputShape[1] <= 0 {
		return fmt.Errorf("output shape must be [1, classes], got %v", s.OutputShape)
	}
	return nil
}

// ONNXClassifier runs a Keras-exported softmax classifier through an
// AdvancedSession with pre-bound input and output tensors.
type ONNXClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	spec         SessionSpec
}

// NewONNXClassifier binds a session to the node names and shapes in spec.
// The ONNX runtime must already be initialized (see EnsureRuntime).
//
// Parameters:
//   - path: path to the .onnx model file
//   - spec: node names and tensor shapes
//
// Returns:
//   - *ONNXClassifier: the loaded classifier
//   - error: error if any occurs during initialization
func NewONNXClassifier(path string, spec SessionSpec) (*ONNXClassifier, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	inputTensor, err := ort.NewTensor(ort.NewShape(spec.InputShape...), make([]float32, spec.inputSize()))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(spec.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		path,
		[]string{spec.InputName},
		[]string{spec.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf(
			"failed to create session (check input/output node names %q/%q): %w",
			spec.InputName, spec.OutputName, err,
		)
	}

	return &ONNXClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		spec:         spec,
	}, nil
}

// Predict copies input into the bound tensor and runs the session. Calls are
// serialized because the tensors are shared.
//
// Parameters:
//   - input: flattened NHWC image, values in [0,1]
//
// Returns:
//   - []float32: class probabilities
//   - error: error if any occurs during inference
func (m *ONNXClassifier) Predict(input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, fmt.Errorf("classifier is closed: %w", ErrModelUnavailable)
	}

	inputData := m.inputTensor.GetData()
	if len(input) != len(inputData) {
		return nil, fmt.Errorf("input size mismatch: expected %d %v, got %d", len(inputData), m.spec.InputShape, len(input))
	}
	copy(inputData, input)

	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}

	outputData := m.outputTensor.GetData()
	result := make([]float32, len(outputData))
	copy(result, outputData)
	return result, nil
}

// NumClasses returns the width of the output vector.
func (m *ONNXClassifier) NumClasses() int {
	return int(m.spec.OutputShape[1])
}

// Spec returns the node names and shapes the session was bound with.
func (m *ONNXClassifier) Spec() SessionSpec {
	return m.spec
}

// Close releases the session and its tensors. The runtime environment is
// shared and stays up.
func (m *ONNXClassifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		err := m.session.Destroy()
		m.session = nil
		return err
	}
	return nil
}

// DynamicClassifier uses a DynamicAdvancedSession and allocates tensors per
// call, so concurrent Predict calls do not contend.
type DynamicClassifier struct {
	session    *ort.DynamicAdvancedSession
	inputShape []int64
	classes    int
}

// NewDynamicClassifier discovers the first input and output of the model and
// binds a dynamic session to them.
func NewDynamicClassifier(path string, inputSize, classes int) (*DynamicClassifier, error) {
	spec, err := InspectClassifier(path, inputSize, classes)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, []string{spec.InputName}, []string{spec.OutputName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic session: %w", err)
	}
	return &DynamicClassifier{
		session:    session,
		inputShape: spec.InputShape,
		classes:    int(spec.OutputShape[1]),
	}, nil
}

func (d *DynamicClassifier) Predict(input []float32) ([]float32, error) {
	if int64(len(input)) != shapeSize(d.inputShape) {
		return nil, fmt.Errorf("input size mismatch: expected %d %v, got %d", shapeSize(d.inputShape), d.inputShape, len(input))
	}

	in, err := ort.NewTensor(ort.NewShape(d.inputShape...), input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	data := out.GetData()
	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

func (d *DynamicClassifier) NumClasses() int { return d.classes }

func (d *DynamicClassifier) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// InspectClassifier reads the first input and output node of a model file and
// fills unknown dimensions from the expected image size and class count.
//
// Parameters:
//   - path: path to the .onnx model file
//   - inputSize: square image side used for dynamic H/W dimensions
//   - classes: class count used when the output width is dynamic
//
// Returns:
//   - SessionSpec: discovered node names and concrete shapes
//   - error: error if the file cannot be read or has no usable nodes
func InspectClassifier(path string, inputSize, classes int) (SessionSpec, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return SessionSpec{}, fmt.Errorf("failed to read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return SessionSpec{}, fmt.Errorf("model %s declares no inputs or outputs", path)
	}

	in, out := inputs[0], outputs[0]
	spec := SessionSpec{
		InputName:   in.Name,
		OutputName:  out.Name,
		InputShape:  concreteShape(in.Dimensions, []int64{1, int64(inputSize), int64(inputSize), 3}),
		OutputShape: concreteShape(out.Dimensions, []int64{1, int64(classes)}),
	}
	if err := spec.validate(); err != nil {
		return SessionSpec{}, fmt.Errorf("model %s: %w", path, err)
	}
	return spec, nil
}

// concreteShape replaces dynamic (negative or zero) dimensions with the
// matching entry of fallback. A rank mismatch returns fallback unchanged.
func concreteShape(dims ort.Shape, fallback []int64) []int64 {
	if len(dims) != len(fallback) {
		return append([]int64(nil), fallback...)
	}
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			out[i] = fallback[i]
		} else {
			out[i] = d
		}
	}
	return out
}

func shapeSize(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
