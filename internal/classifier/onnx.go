package classifier

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/leafguard/internal/imageprocessor"
)

// ONNXConfig locates the model artifact and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath    string
	MetadataPath string
	// SharedLibraryPath overrides the platform default onnxruntime library.
	SharedLibraryPath string
	// ImageSize is the edge length the preprocessor emits. Zero skips the check.
	ImageSize int
}

// ONNX runs the leaf model in-process. Input and output tensors are allocated
// once and reused, so Classify calls are serialized.
type ONNX struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	metadata     Metadata
	modelID      string
	logger       *zap.Logger
}

// NewONNX loads the model. Any failure is reported as *ModelLoadError.
func NewONNX(cfg ONNXConfig, logger *zap.Logger) (*ONNX, error) {
	loadErr := func(err error) error {
		return &ModelLoadError{Source: cfg.ModelPath, Err: err}
	}

	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, loadErr(err)
	}
	if cfg.ImageSize != 0 {
		if err := metadata.CheckImageSize(cfg.ImageSize); err != nil {
			return nil, loadErr(err)
		}
	}

	modelID, err := fingerprint(cfg.ModelPath)
	if err != nil {
		return nil, loadErr(err)
	}
	if metadata.Version != "" {
		modelID = metadata.Version + "-" + modelID
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, loadErr(fmt.Errorf("initialize onnxruntime: %w", err))
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, loadErr(fmt.Errorf("create input tensor: %w", err))
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, loadErr(fmt.Errorf("create output tensor: %w", err))
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, loadErr(fmt.Errorf("create session: %w", err))
	}

	logger.Info("leaf model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.String("model_id", modelID),
		zap.Int64s("input_shape", metadata.InputShape))

	return &ONNX{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		metadata:     metadata,
		modelID:      modelID,
		logger:       logger.Named("onnx_classifier"),
	}, nil
}

// Metadata returns the tensor contract the model was loaded with.
func (o *ONNX) Metadata() Metadata { return o.metadata }

// ModelID implements Classifier.
func (o *ONNX) ModelID() string { return o.modelID }

// Classify copies the tensor into a batch of one, runs the session and returns output[0].
func (o *ONNX) Classify(_ context.Context, tensor imageprocessor.Tensor) (float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	input := o.inputTensor.GetData()
	if len(tensor.Data) != len(input) {
		return 0, &InferenceError{Err: fmt.Errorf("tensor has %d values, model expects %d", len(tensor.Data), len(input))}
	}
	copy(input, tensor.Data)

	if err := o.session.Run(); err != nil {
		return 0, &InferenceError{Err: err}
	}

	score := float64(o.outputTensor.GetData()[0])
	if err := CheckScore(score); err != nil {
		return 0, err
	}
	return score, nil
}

// Close releases the session, tensors and the runtime environment.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
	return ort.DestroyEnvironment()
}

// fingerprint hashes the model file so cached scores never outlive an artifact swap.
func fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash model: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}
