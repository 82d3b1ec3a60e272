package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/nfnt/resize"
)

// DefaultSize is the square edge length the leaf model was trained on.
const DefaultSize = 256

// DefaultMaxPixels bounds width×height of an upload before its pixels are decoded.
const DefaultMaxPixels = 40_000_000

// ErrTooManyPixels is wrapped in a DecodeError when an image header exceeds the pixel cap.
var ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")

// Tensor is an HWC float image with channel values in [0,1].
type Tensor struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Shape returns the tensor dimensions as a batch of one, NHWC.
func (t Tensor) Shape() []int64 {
	return []int64{1, int64(t.Height), int64(t.Width), int64(t.Channels)}
}

// DecodeError reports bytes that are not a supported image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses JPEG or PNG bytes with the DefaultMaxPixels cap.
func Decode(data []byte) (image.Image, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited parses JPEG or PNG bytes. The header is read first and images
// larger than maxPixels are rejected without allocating their pixel buffers.
func DecodeLimited(data []byte, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty payload")}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("zero-sized image")}
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d > %d", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("zero-sized image")}
	}
	return img, nil
}

// Preprocessor resizes and normalizes decoded images for the classifier.
type Preprocessor struct {
	size      int
	interp    resize.InterpolationFunction
	maxPixels int
}

// New returns a Preprocessor producing size×size×3 tensors.
func New(size int, interp resize.InterpolationFunction) *Preprocessor {
	if size <= 0 {
		size = DefaultSize
	}
	return &Preprocessor{size: size, interp: interp, maxPixels: DefaultMaxPixels}
}

// WithMaxPixels sets the decode cap. Zero or less keeps DefaultMaxPixels.
func (p *Preprocessor) WithMaxPixels(n int) *Preprocessor {
	if n > 0 {
		p.maxPixels = n
	}
	return p
}

// Decode parses data under this preprocessor's pixel cap.
func (p *Preprocessor) Decode(data []byte) (image.Image, error) {
	return DecodeLimited(data, p.maxPixels)
}

// ParseInterpolation maps a config name to a resize filter. Empty means bilinear.
func ParseInterpolation(name string) (resize.InterpolationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bilinear":
		return resize.Bilinear, nil
	case "nearest":
		return resize.NearestNeighbor, nil
	case "bicubic":
		return resize.Bicubic, nil
	case "lanczos3":
		return resize.Lanczos3, nil
	default:
		return resize.Bilinear, fmt.Errorf("unknown interpolation %q", name)
	}
}

// Size returns the output edge length.
func (p *Preprocessor) Size() int { return p.size }

// ID names the output geometry and resize filter, e.g. "256px-bilinear".
// Two preprocessors with the same ID produce the same tensor for the same bytes.
func (p *Preprocessor) ID() string {
	return fmt.Sprintf("%dpx-%s", p.size, interpolationName(p.interp))
}

func interpolationName(interp resize.InterpolationFunction) string {
	switch interp {
	case resize.NearestNeighbor:
		return "nearest"
	case resize.Bilinear:
		return "bilinear"
	case resize.Bicubic:
		return "bicubic"
	case resize.MitchellNetravali:
		return "mitchell"
	case resize.Lanczos2:
		return "lanczos2"
	case resize.Lanczos3:
		return "lanczos3"
	default:
		return fmt.Sprintf("interp%d", int(interp))
	}
}

// Prepare flattens alpha onto white, stretches to size×size and scales to [0,1].
func (p *Preprocessor) Prepare(img image.Image) Tensor {
	flat := flatten(img)
	resized := resize.Resize(uint(p.size), uint(p.size), flat, p.interp)

	bounds := resized.Bounds()
	data := make([]float32, p.size*p.size*3)
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*p.size + x) * 3
			data[i] = float32(r>>8) / 255.0
			data[i+1] = float32(g>>8) / 255.0
			data[i+2] = float32(b>>8) / 255.0
		}
	}

	return Tensor{Height: p.size, Width: p.size, Channels: 3, Data: data}
}

// flatten composites img over opaque white so every color model ends up as opaque RGBA.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
