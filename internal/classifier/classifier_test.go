package classifier

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestNewONNXMissingModelIsModelLoadError(t *testing.T) {
	_, err := NewONNX(ONNXConfig{ModelPath: filepath.Join(t.TempDir(), "missing.onnx")}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestNewONNXBadMetadataIsModelLoadError(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.json")
	if err := os.WriteFile(metaPath, []byte(`{"input_shape":[1,3,256,256],"image_size":256}`), 0o600); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}

	_, err := NewONNX(ONNXConfig{ModelPath: filepath.Join(dir, "model.onnx"), MetadataPath: metaPath}, zap.NewNop())
	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}

func TestNewONNXImageSizeMismatchIsModelLoadError(t *testing.T) {
	// The size check runs before the model file is touched, so no artifact is needed.
	_, err := NewONNX(ONNXConfig{ModelPath: filepath.Join(t.TempDir(), "model.onnx"), ImageSize: 224}, zap.NewNop())

	var loadErr *ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
	if errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected the size mismatch to be reported before the file read, got %v", err)
	}
}

func TestCheckImageSize(t *testing.T) {
	meta := DefaultMetadata()
	if err := meta.CheckImageSize(256); err != nil {
		t.Fatalf("expected 256 to match, got %v", err)
	}
	if err := meta.CheckImageSize(224); err == nil {
		t.Fatal("expected 224 to be rejected")
	}
}

func TestLoadMetadataDefaults(t *testing.T) {
	meta, err := LoadMetadata("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.ImageSize != 256 || meta.InputShape[1] != 256 || meta.InputShape[3] != 3 {
		t.Fatalf("unexpected defaults: %+v", meta)
	}
}

func TestLoadMetadataOverridesNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	raw := `{"input_name":"input_1","output_name":"dense_2","input_shape":[1,128,128,3],"output_shape":[1,1],"image_size":128,"version":"v3"}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("failed to write metadata: %v", err)
	}

	meta, err := LoadMetadata(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.InputName != "input_1" || meta.OutputName != "dense_2" || meta.ImageSize != 128 || meta.Version != "v3" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestCheckScore(t *testing.T) {
	for _, ok := range []float64{0, 0.5, 1} {
		if err := CheckScore(ok); err != nil {
			t.Fatalf("score %v: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []float64{-0.01, 1.01, math.NaN()} {
		err := CheckScore(bad)
		var inferenceErr *InferenceError
		if !errors.As(err, &inferenceErr) {
			t.Fatalf("score %v: expected InferenceError, got %v", bad, err)
		}
	}
}
