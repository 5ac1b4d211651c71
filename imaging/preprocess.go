// Package imaging turns uploaded image bytes into the float tensors the
// classifier and detectors consume.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Channels is fixed: alpha is dropped and grayscale is expanded.
const Channels = 3

// ErrDecode is matched by every decoding failure.
var ErrDecode = errors.New("image decode failed")

// DecodeError carries the decoder's error.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("image decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Tensor is an HWC float32 image with values in [0,1].
type Tensor struct {
	Data   []float32
	Height int
	Width  int
	// Format is the decoder name reported by image.Decode.
	Format string
}

// Shape returns (H, W, 3).
func (t *Tensor) Shape() []int {
	return []int{t.Height, t.Width, Channels}
}

// Batch returns the NHWC batch-of-one view. The slice aliases Data.
func (t *Tensor) Batch() ([]float32, []int64) {
	return t.Data, []int64{1, int64(t.Height), int64(t.Width), Channels}
}

// At returns the three channel values at (x, y).
func (t *Tensor) At(x, y int) (r, g, b float32) {
	i := (y*t.Width + x) * Channels
	return t.Data[i], t.Data[i+1], t.Data[i+2]
}

// ToImage converts the tensor back to an 8-bit image.
func (t *Tensor) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			r, g, b := t.At(x, y)
			img.SetRGBA(x, y, color.RGBA{R: toByte(r), G: toByte(g), B: toByte(b), A: 0xff})
		}
	}
	return img
}

// Preprocess decodes raw, converts it to RGB, resizes it to exactly size
// (aspect ratio is not preserved) and scales it to [0,1].
//
// Parameters:
//   - raw: encoded JPEG, PNG, GIF, BMP or WEBP bytes
//   - size: target width (X) and height (Y)
//
// Returns:
//   - *Tensor: HWC tensor of shape (size.Y, size.X, 3)
//   - error: a *DecodeError matching ErrDecode when raw is not a supported image
func Preprocess(raw []byte, size image.Point) (*Tensor, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid target size %v", size)
	}
	img, format, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	t := FromImage(img, size)
	t.Format = format
	return t, nil
}

// Decode decodes raw with every registered format and reports the format name.
func Decode(raw []byte) (image.Image, string, error) {
	if len(raw) == 0 {
		return nil, "", &DecodeError{Err: errors.New("empty input")}
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	return img, format, nil
}

// FromImage resizes an already decoded image and converts it to a tensor.
func FromImage(img image.Image, size image.Point) *Tensor {
	resized := resize.Resize(uint(size.X), uint(size.Y), img, resize.Bilinear)
	bounds := resized.Bounds()

	t := &Tensor{
		Data:   make([]float32, size.X*size.Y*Channels),
		Height: size.Y,
		Width:  size.X,
	}
	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+size.Y; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+size.X; x++ {
			// NRGBA keeps the stored color of translucent pixels instead of
			// premultiplying it towards black.
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			t.Data[i] = float32(c.R) / 255
			t.Data[i+1] = float32(c.G) / 255
			t.Data[i+2] = float32(c.B) / 255
			i += Channels
		}
	}
	return t
}

func toByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
