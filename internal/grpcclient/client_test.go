package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/leafguard/internal/classifier"
	"github.com/example/leafguard/internal/imageprocessor"
)

type stubClassifier struct {
	score    float64
	err      error
	lastSize int
}

func (s *stubClassifier) Classify(ctx context.Context, tensor imageprocessor.Tensor) (float64, error) {
	s.lastSize = tensor.Height
	if s.err != nil {
		return 0, s.err
	}
	return s.score, nil
}

func (s *stubClassifier) ModelID() string { return "stub" }
func (s *stubClassifier) Close() error    { return nil }

func startScorer(t *testing.T, impl ScorerServer) *Classifier {
	t.Helper()
	return startVersionedScorer(t, impl, "")
}

func startVersionedScorer(t *testing.T, impl ScorerServer, version string) *Classifier {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterScorerServer(srv, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	client, err := DialClassifier(context.Background(), "bufnet", version, 2*time.Second, zap.NewNop(), dialer)
	if err != nil {
		t.Fatalf("failed to dial scorer: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testTensor(edge int) imageprocessor.Tensor {
	data := make([]float32, edge*edge*3)
	for i := range data {
		data[i] = float32(i%256) / 255
	}
	return imageprocessor.Tensor{Height: edge, Width: edge, Channels: 3, Data: data}
}

func TestClassifyRoundTrip(t *testing.T) {
	stub := &stubClassifier{score: 0.75}
	client := startScorer(t, NewScorerServer(stub))

	score, err := client.Classify(context.Background(), testTensor(16))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if score != 0.75 {
		t.Fatalf("expected 0.75, got %v", score)
	}
	if stub.lastSize != 16 {
		t.Fatalf("expected server to rebuild a 16px tensor, got %d", stub.lastSize)
	}
}

func TestModelIDIncludesVersion(t *testing.T) {
	unversioned := startScorer(t, NewScorerServer(&stubClassifier{}))
	if got := unversioned.ModelID(); got != "grpc:bufnet" {
		t.Fatalf("unexpected model id %q", got)
	}

	versioned := startVersionedScorer(t, NewScorerServer(&stubClassifier{}), "gld-v2")
	if got := versioned.ModelID(); got != "grpc:bufnet@gld-v2" {
		t.Fatalf("unexpected model id %q", got)
	}
}

func TestClassifyRemoteFailureIsInferenceError(t *testing.T) {
	client := startScorer(t, NewScorerServer(&stubClassifier{err: errors.New("gpu on fire")}))

	_, err := client.Classify(context.Background(), testTensor(4))
	var inferenceErr *classifier.InferenceError
	if !errors.As(err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestClassifyRejectsOutOfRangeScore(t *testing.T) {
	client := startScorer(t, NewScorerServer(&stubClassifier{score: 3}))

	_, err := client.Classify(context.Background(), testTensor(4))
	var inferenceErr *classifier.InferenceError
	if !errors.As(err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %v", err)
	}
}

func TestDialFailureIsModelLoadError(t *testing.T) {
	lis := bufconn.Listen(1024)
	_ = lis.Close()
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	_, err := DialClassifier(context.Background(), "bufnet", "", 100*time.Millisecond, zap.NewNop(), dialer)
	var loadErr *classifier.ModelLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected ModelLoadError, got %v", err)
	}
}

func TestDecodeTensorRejectsNonSquarePayload(t *testing.T) {
	if _, err := DecodeTensor(make([]byte, 12*3)); err == nil {
		t.Fatal("expected error for 3-pixel payload")
	}
	if _, err := DecodeTensor(make([]byte, 7)); err == nil {
		t.Fatal("expected error for ragged payload")
	}
}
