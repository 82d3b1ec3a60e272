package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/leafguard/internal/classifier"
	"github.com/example/leafguard/internal/imageprocessor"
	"github.com/example/leafguard/internal/logging"
)

// DialClassifier connects to a remote leaf scorer. A failed dial is a *classifier.ModelLoadError.
// modelVersion names the model the scorer serves and becomes part of ModelID.
func DialClassifier(ctx context.Context, addr, modelVersion string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Classifier, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_scorer", "", err)
		logger.Error("failed to dial leaf scorer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, &classifier.ModelLoadError{Source: addr, Err: wrapped}
	}

	modelID := "grpc:" + addr
	if modelVersion != "" {
		modelID += "@" + modelVersion
	}

	logger.Info("connected to leaf scorer", zap.String("addr", addr), zap.String("model_id", modelID))
	return &Classifier{conn: conn, modelID: modelID, logger: logger.Named("grpc_classifier")}, nil
}

// Classifier scores tensors through the LeafScorer RPC.
type Classifier struct {
	conn    *grpc.ClientConn
	modelID string
	logger  *zap.Logger
}

// ModelID implements classifier.Classifier.
func (g *Classifier) ModelID() string { return g.modelID }

// Classify sends the tensor as a batch of one and validates the returned score.
func (g *Classifier) Classify(ctx context.Context, tensor imageprocessor.Tensor) (float64, error) {
	req := wrapperspb.Bytes(EncodeTensor(tensor))
	resp := new(wrapperspb.FloatValue)
	if err := g.conn.Invoke(ctx, ScoreMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.score", "", err)
		g.logger.Error("leaf scorer call failed", zap.Error(wrapped))
		return 0, &classifier.InferenceError{Err: wrapped}
	}

	score := float64(resp.GetValue())
	if err := classifier.CheckScore(score); err != nil {
		return 0, err
	}
	return score, nil
}

// Close tears down the connection.
func (g *Classifier) Close() error {
	return g.conn.Close()
}
