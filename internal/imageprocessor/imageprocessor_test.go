package imageprocessor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/nfnt/resize"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestPrepareAlwaysProducesFixedShape(t *testing.T) {
	p := New(DefaultSize, resize.Bilinear)
	for _, dims := range [][2]int{{1, 1}, {640, 480}, {31, 700}, {256, 256}} {
		tensor := p.Prepare(solidImage(dims[0], dims[1], color.NRGBA{R: 10, G: 200, B: 30, A: 255}))
		if tensor.Height != 256 || tensor.Width != 256 || tensor.Channels != 3 {
			t.Fatalf("%v: unexpected shape %dx%dx%d", dims, tensor.Height, tensor.Width, tensor.Channels)
		}
		if len(tensor.Data) != 256*256*3 {
			t.Fatalf("%v: unexpected data length %d", dims, len(tensor.Data))
		}
	}
}

func TestPrepareNormalizesChannels(t *testing.T) {
	p := New(8, resize.Bilinear)
	tensor := p.Prepare(solidImage(20, 10, color.NRGBA{R: 255, G: 0, B: 51, A: 255}))

	want := []float32{1, 0, 0.2}
	for i := 0; i < len(tensor.Data); i += 3 {
		for c := 0; c < 3; c++ {
			if math.Abs(float64(tensor.Data[i+c]-want[c])) > 1e-6 {
				t.Fatalf("pixel %d channel %d: expected %v, got %v", i/3, c, want[c], tensor.Data[i+c])
			}
		}
	}
}

func TestPrepareFlattensAlphaOntoWhite(t *testing.T) {
	p := New(4, resize.Bilinear)
	tensor := p.Prepare(solidImage(4, 4, color.NRGBA{R: 0, G: 0, B: 0, A: 0}))
	for i, v := range tensor.Data {
		if v != 1 {
			t.Fatalf("value %d: expected transparent pixels to become white, got %v", i, v)
		}
	}
}

func TestPrepareHandlesGrayscale(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range gray.Pix {
		gray.Pix[i] = 255
	}
	tensor := New(2, resize.NearestNeighbor).Prepare(gray)
	if len(tensor.Data) != 2*2*3 {
		t.Fatalf("unexpected data length %d", len(tensor.Data))
	}
	for i, v := range tensor.Data {
		if v != 1 {
			t.Fatalf("value %d: expected 1, got %v", i, v)
		}
	}
}

func TestDecodeRejectsCorruptBytes(t *testing.T) {
	for _, payload := range [][]byte{nil, []byte("definitely not an image"), {0x89, 'P', 'N', 'G'}} {
		_, err := Decode(payload)
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("expected DecodeError for %q, got %v", payload, err)
		}
	}
}

func TestDecodeAcceptsPNG(t *testing.T) {
	img, err := Decode(encodePNG(t, solidImage(5, 7, color.White)))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if img.Bounds().Dx() != 5 || img.Bounds().Dy() != 7 {
		t.Fatalf("unexpected bounds %v", img.Bounds())
	}
}

func TestParseInterpolation(t *testing.T) {
	for _, name := range []string{"", "bilinear", "Nearest", "bicubic", "lanczos3"} {
		if _, err := ParseInterpolation(name); err != nil {
			t.Fatalf("%q: unexpected error: %v", name, err)
		}
	}
	if _, err := ParseInterpolation("sinc"); err == nil {
		t.Fatal("expected error for unknown interpolation")
	}
}

// withHeaderDims rewrites the IHDR chunk of a PNG so it claims w×h pixels.
func withHeaderDims(t *testing.T, payload []byte, w, h uint32) []byte {
	t.Helper()
	if len(payload) < 33 || string(payload[12:16]) != "IHDR" {
		t.Fatal("payload does not start with an IHDR chunk")
	}
	out := append([]byte(nil), payload...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestDecodeRejectsOversizedDimensionsFromHeader(t *testing.T) {
	payload := withHeaderDims(t, encodePNG(t, solidImage(1, 1, color.White)), 100000, 100000)
	if len(payload) > 1024 {
		t.Fatalf("expected a tiny payload, got %d bytes", len(payload))
	}

	_, err := Decode(payload)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected pixel limit error, got %v", err)
	}
}

func TestPreprocessorDecodeHonorsPixelCap(t *testing.T) {
	payload := encodePNG(t, solidImage(40, 30, color.White))

	if _, err := New(8, resize.Bilinear).Decode(payload); err != nil {
		t.Fatalf("expected default cap to accept 1200 pixels, got %v", err)
	}

	_, err := New(8, resize.Bilinear).WithMaxPixels(1000).Decode(payload)
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("expected pixel limit error, got %v", err)
	}

	if _, err := New(8, resize.Bilinear).WithMaxPixels(1200).Decode(payload); err != nil {
		t.Fatalf("expected an image at the cap to be accepted, got %v", err)
	}
}

func TestPreprocessorIDReflectsSizeAndFilter(t *testing.T) {
	if got := New(256, resize.Bilinear).ID(); got != "256px-bilinear" {
		t.Fatalf("unexpected id %q", got)
	}
	if New(256, resize.Bilinear).ID() == New(256, resize.Lanczos3).ID() {
		t.Fatal("expected filters to produce distinct ids")
	}
	if New(256, resize.Bilinear).ID() == New(224, resize.Bilinear).ID() {
		t.Fatal("expected sizes to produce distinct ids")
	}
}
