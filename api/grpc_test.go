package api

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"skincare-service/retrieval"
	"skincare-service/service"
)

func dialBufconn(t *testing.T, d Deps) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(d)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func analyzeOverStream(ctx context.Context, conn *grpc.ClientConn, chunks ...[]byte) (*structpb.Struct, error) {
	stream, err := conn.NewStream(ctx, &skinAnalysisServiceDesc.Streams[0], "/"+grpcServiceName+"/AnalyzeSkin")
	if err != nil {
		return nil, err
	}
	for _, c := range chunks {
		// io.EOF means the server already answered; RecvMsg reports why
		if err := stream.SendMsg(wrapperspb.Bytes(c)); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	_ = stream.CloseSend()
	out := new(structpb.Struct)
	if err := stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

func TestGRPCAnalyzeSkinJoinsChunks(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	analyzer.analysis = successfulAnalysis()
	conn := dialBufconn(t, deps)

	out, err := analyzeOverStream(context.Background(), conn, []byte("fake-"), []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png"), analyzer.got)

	m := out.AsMap()
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "여드름", m["summary"].(map[string]any)["disease"])
}

func TestGRPCAnalyzeSkinErrors(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	deps.MaxUploadBytes = 4
	conn := dialBufconn(t, deps)

	_, err := analyzeOverStream(context.Background(), conn)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = analyzeOverStream(context.Background(), conn, []byte("abc"), []byte("def"))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	analyzer.analysis = service.Analysis{Error: "models unavailable", Failure: service.FailureModelsUnavailable}
	_, err = analyzeOverStream(context.Background(), conn, []byte("ab"))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPCAnalyzeSkinFailureCodes(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	conn := dialBufconn(t, deps)

	tests := []struct {
		failure service.Failure
		want    codes.Code
	}{
		{service.FailureInvalidImage, codes.InvalidArgument},
		{service.FailureCanceled, codes.Canceled},
		{service.FailureDeadline, codes.DeadlineExceeded},
		{service.FailureInternal, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(string(tt.failure), func(t *testing.T) {
			analyzer.analysis = service.Analysis{Error: "analysis failed: boom", Failure: tt.failure}
			_, err := analyzeOverStream(context.Background(), conn, []byte("ab"))
			assert.Equal(t, tt.want, status.Code(err))
			assert.Equal(t, "analysis failed: boom", status.Convert(err).Message())
		})
	}
}

func TestGRPCGetModelStatus(t *testing.T) {
	deps, analyzer, _, _, _ := testDeps()
	analyzer.status = service.Status{State: "failed"}
	conn := dialBufconn(t, deps)

	out := new(structpb.Struct)
	err := conn.Invoke(context.Background(), "/"+grpcServiceName+"/GetModelStatus", &emptypb.Empty{}, out)
	require.NoError(t, err)
	assert.Equal(t, "failed", out.AsMap()["state"])
}

func TestGRPCRecommend(t *testing.T) {
	deps, _, rec, _, history := testDeps()
	rec.result = &retrieval.Result{
		Narrative:       "크림: B - 보습",
		Recommendations: []retrieval.Recommendation{{Category: "크림", ProductName: "B", Reason: "보습", Matched: true}},
	}
	conn := dialBufconn(t, deps)

	in, err := structpb.NewStruct(map[string]any{
		"skin_type":   "건성",
		"sensitivity": "높음",
		"concerns":    []any{"건조"},
		"user_id":     "user-3",
	})
	require.NoError(t, err)

	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(context.Background(), "/"+grpcServiceName+"/Recommend", in, out))
	m := out.AsMap()
	assert.Equal(t, true, m["success"])
	assert.Len(t, m["recommendations"], 1)
	assert.Equal(t, "높음", rec.got.Sensitivity)
	assert.Len(t, history.recs, 1)

	bad, err := structpb.NewStruct(map[string]any{"sensitivity": "높음"})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), "/"+grpcServiceName+"/Recommend", bad, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
