package model

import (
	"fmt"
	"image"

	ort "github.com/yalue/onnxruntime_go"

	"skincare-service/imaging"
)

// DetectorOptions configure an ONNXDetector.
type DetectorOptions struct {
	InputSize     int
	ConfThreshold float32
	IoUThreshold  float32
}

// ONNXDetector runs a YOLO detector exported to ONNX. Input is NCHW RGB in
// [0,1] at InputSize x InputSize.
type ONNXDetector struct {
	session *ort.DynamicAdvancedSession
	opts    DetectorOptions
	names   []string
}

// NewONNXDetector discovers the node names, reads the embedded class names
// and binds a dynamic session.
//
// Parameters:
//   - path: path to the .onnx model file
//   - opts: input size and decoding thresholds
//
// Returns:
//   - *ONNXDetector: the loaded detector
//   - error: error if any occurs during initialization
func NewONNXDetector(path string, opts DetectorOptions) (*ONNXDetector, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid detector input size %d", opts.InputSize)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s declares no inputs or outputs", path)
	}

	names, err := ReadClassNames(path)
	if err != nil {
		// missing metadata only costs the label refresh
		names = nil
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path, []string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}

	return &ONNXDetector{session: session, opts: opts, names: names}, nil
}

// Detect letterbox-free resizes img to the network size, runs the session and
// decodes boxes back into img coordinates.
func (d *ONNXDetector) Detect(img image.Image) ([]Detection, error) {
	if d.session == nil {
		return nil, fmt.Errorf("detector is closed: %w", ErrModelUnavailable)
	}
	size := d.opts.InputSize
	bounds := img.Bounds()

	t := imaging.FromImage(img, image.Pt(size, size))
	in, err := ort.NewTensor(ort.NewShape(1, imaging.Channels, int64(size), int64(size)), toCHW(t))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run detector: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected detector output type %T", outputs[0])
	}

	return DecodeYOLO(out.GetData(), out.GetShape(), DecodeOptions{
		ConfThreshold: d.opts.ConfThreshold,
		IoUThreshold:  d.opts.IoUThreshold,
		ScaleX:        float32(bounds.Dx()) / float32(size),
		ScaleY:        float32(bounds.Dy()) / float32(size),
	})
}

func (d *ONNXDetector) ClassNames() []string {
	return d.names
}

func (d *ONNXDetector) Close() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	return err
}

// toCHW reorders an HWC tensor into planar channels.
func toCHW(t *imaging.Tensor) []float32 {
	plane := t.Height * t.Width
	out := make([]float32, plane*imaging.Channels)
	for i := 0; i < plane; i++ {
		for c := 0; c < imaging.Channels; c++ {
			out[c*plane+i] = t.Data[i*imaging.Channels+c]
		}
	}
	return out
}
