package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"skincare-service/data"
	"skincare-service/metrics"
	"skincare-service/retrieval"
	"skincare-service/service"
)

const grpcServiceName = "skinanalysis.SkinAnalysisService"

// SkinAnalysisService is the gRPC surface. Messages are protobuf well-known
// types: image chunks arrive as BytesValue, results leave as Struct.
type SkinAnalysisService interface {
	AnalyzeSkin(stream grpc.ServerStream) error
	GetModelStatus(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	Recommend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type SkinAnalysisServer struct {
	analyzer    Analyzer
	recommender Recommender
	analyses    AnalysisStore
	history     RecommendationStore
	maxBytes    int64
	validate    *validator.Validate
	logger      zerolog.Logger
}

func NewSkinAnalysisServer(d Deps) *SkinAnalysisServer {
	return &SkinAnalysisServer{
		analyzer:    d.Analyzer,
		recommender: d.Recommender,
		analyses:    d.Analyses,
		history:     d.Recommendations,
		maxBytes:    d.MaxUploadBytes,
		validate:    validator.New(),
		logger:      d.Logger,
	}
}

func (s *SkinAnalysisServer) AnalyzeSkin(stream grpc.ServerStream) error {
	var imageData []byte

	for {
		var chunk wrapperspb.BytesValue
		err := stream.RecvMsg(&chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		imageData = append(imageData, chunk.GetValue()...)
		if int64(len(imageData)) > s.maxBytes {
			return status.Error(codes.ResourceExhausted, "image exceeds the upload limit")
		}
	}
	if len(imageData) == 0 {
		return status.Error(codes.InvalidArgument, "no image data received")
	}

	analysis := s.analyzer.Analyze(stream.Context(), imageData)
	if !analysis.Success {
		return status.Error(failureCode(analysis.Failure), analysis.Error)
	}

	out, err := toStruct(analysis)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(out)
}

func failureCode(f service.Failure) codes.Code {
	switch f {
	case service.FailureModelsUnavailable:
		return codes.Unavailable
	case service.FailureInvalidImage:
		return codes.InvalidArgument
	case service.FailureCanceled:
		return codes.Canceled
	case service.FailureDeadline:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func (s *SkinAnalysisServer) GetModelStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := toStruct(s.analyzer.Status())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// Recommend accepts the same fields as the REST body.
func (s *SkinAnalysisServer) Recommend(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.recommender == nil {
		return nil, status.Error(codes.Unavailable, retrieval.ErrRetrievalUnavailable.Error())
	}

	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var req RecommendRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	q, err := queryFor(ctx, req, s.analyses)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "analysis not found")
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.recommender.Recommend(ctx, q)
	if err != nil {
		switch {
		case errors.Is(err, retrieval.ErrRetrievalUnavailable):
			return nil, status.Error(codes.Unavailable, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		default:
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
	}

	resp := RecommendResponse{Success: true, Result: res}
	if req.UserID != "" && s.history != nil {
		rec, err := data.NewRecommendationRecord(req.UserID, q, res)
		if err == nil {
			err = s.history.Create(ctx, rec)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to save recommendation")
		} else {
			resp.ID = rec.ID.String()
		}
	}

	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStruct goes through JSON so the gRPC and REST payloads share field names.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func RegisterSkinAnalysisServer(s grpc.ServiceRegistrar, srv SkinAnalysisService) {
	s.RegisterService(&skinAnalysisServiceDesc, srv)
}

var skinAnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*SkinAnalysisService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetModelStatus", Handler: getModelStatusHandler},
		{MethodName: "Recommend", Handler: recommendHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AnalyzeSkin",
			Handler:       analyzeSkinHandler,
			ClientStreams: true,
		},
	},
	Metadata: "skinanalysis.proto",
}

func analyzeSkinHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SkinAnalysisService).AnalyzeSkin(stream)
}

func getModelStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SkinAnalysisService).GetModelStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/GetModelStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SkinAnalysisService).GetModelStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func recommendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SkinAnalysisService).Recommend(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + grpcServiceName + "/Recommend"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SkinAnalysisService).Recommend(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func UnaryMetrics() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordAPIRequest("grpc", info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

func StreamMetrics() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		metrics.RecordAPIRequest("grpc", info.FullMethod, status.Code(err).String(), time.Since(start))
		return err
	}
}

// NewGRPCServer registers the service with metrics interceptors.
func NewGRPCServer(d Deps) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryMetrics()),
		grpc.ChainStreamInterceptor(StreamMetrics()),
		grpc.MaxRecvMsgSize(int(d.MaxUploadBytes)+uploadOverhead),
	)
	RegisterSkinAnalysisServer(srv, NewSkinAnalysisServer(d))
	return srv
}
