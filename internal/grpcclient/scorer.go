package grpcclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/leafguard/internal/classifier"
	"github.com/example/leafguard/internal/imageprocessor"
)

const (
	serviceName = "leafguard.v1.LeafScorer"
	// ScoreMethod is the full RPC name; the body is little-endian float32 HWC pixels.
	ScoreMethod = "/" + serviceName + "/Score"
)

// ScorerServer is implemented by processes that host the leaf model.
type ScorerServer interface {
	Score(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error)
}

// RegisterScorerServer exposes impl on s under the LeafScorer service name.
func RegisterScorerServer(s grpc.ServiceRegistrar, impl ScorerServer) {
	s.RegisterService(&scorerServiceDesc, impl)
}

var scorerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ScorerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Score", Handler: scoreHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leafguard/v1/scorer.proto",
}

func scoreHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScorerServer).Score(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ScoreMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ScorerServer).Score(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// NewScorerServer serves the LeafScorer RPC from a local classifier.
func NewScorerServer(c classifier.Classifier) ScorerServer {
	return &scorerServer{classifier: c}
}

type scorerServer struct {
	classifier classifier.Classifier
}

func (s *scorerServer) Score(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.FloatValue, error) {
	tensor, err := DecodeTensor(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	score, err := s.classifier.Classify(ctx, tensor)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Float(float32(score)), nil
}

// EncodeTensor packs tensor values as little-endian float32.
func EncodeTensor(t imageprocessor.Tensor) []byte {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor unpacks a square three-channel tensor produced by EncodeTensor.
func DecodeTensor(raw []byte) (imageprocessor.Tensor, error) {
	if len(raw) == 0 || len(raw)%12 != 0 {
		return imageprocessor.Tensor{}, fmt.Errorf("payload of %d bytes is not a whole number of RGB pixels", len(raw))
	}
	pixels := len(raw) / 12
	edge := int(math.Sqrt(float64(pixels)))
	if edge*edge != pixels {
		return imageprocessor.Tensor{}, fmt.Errorf("%d pixels do not form a square image", pixels)
	}

	data := make([]float32, len(raw)/4)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return imageprocessor.Tensor{Height: edge, Width: edge, Channels: 3, Data: data}, nil
}
