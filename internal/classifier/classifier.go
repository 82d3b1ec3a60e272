// Package classifier adapts the pre-trained leaf model to a single scoring call.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/example/leafguard/internal/imageprocessor"
)

// Classifier maps one preprocessed image to a healthy-probability score in [0,1].
type Classifier interface {
	Classify(ctx context.Context, tensor imageprocessor.Tensor) (float64, error)
	// ModelID identifies the loaded artifact, used to key cached scores.
	ModelID() string
	Close() error
}

// ModelLoadError is fatal: the session cannot start without a model.
type ModelLoadError struct {
	Source string
	Err    error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Source, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// InferenceError reports a failed or out-of-range prediction for one image.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Metadata describes the model artifact's tensor contract.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
	Version     string  `json:"version"`
}

// DefaultMetadata matches the binary guava leaf model: NHWC 256x256x3 in, one sigmoid out.
func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, imageprocessor.DefaultSize, imageprocessor.DefaultSize, 3},
		OutputShape: []int64{1, 1},
		ImageSize:   imageprocessor.DefaultSize,
	}
}

// LoadMetadata reads a JSON sidecar. An empty path yields DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("parse metadata: %w", err)
	}
	if err := meta.validate(); err != nil {
		return meta, err
	}
	return meta, nil
}

func (m Metadata) validate() error {
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 || m.InputShape[3] != 3 {
		return fmt.Errorf("input shape %v is not [1,H,W,3]", m.InputShape)
	}
	if m.InputShape[1] != int64(m.ImageSize) || m.InputShape[2] != int64(m.ImageSize) {
		return fmt.Errorf("input shape %v does not match image size %d", m.InputShape, m.ImageSize)
	}
	n := int64(1)
	for _, d := range m.OutputShape {
		n *= d
	}
	if n < 1 {
		return fmt.Errorf("output shape %v is empty", m.OutputShape)
	}
	return nil
}

// CheckImageSize reports whether a preprocessor producing size×size tensors fits the model input.
func (m Metadata) CheckImageSize(size int) error {
	if size != m.ImageSize {
		return fmt.Errorf("preprocessor size %d does not match model input %v", size, m.InputShape)
	}
	return nil
}

// CheckScore rejects values the decision rule cannot interpret.
func CheckScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return &InferenceError{Err: fmt.Errorf("score %v outside [0,1]", score)}
	}
	return nil
}
