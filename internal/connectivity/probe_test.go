package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestHTTPProberSendsHead(t *testing.T) {
	status := http.StatusOK
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.Client(), srv.URL+"/api/v1/", "")
	require.NoError(t, p.Probe(context.Background()))
	require.Equal(t, http.MethodHead, method)
	require.Equal(t, "/api/v1/health-check", path)

	status = http.StatusServiceUnavailable
	require.Error(t, p.Probe(context.Background()))
}

func TestHTTPProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewHTTPProber(nil, url, "/health-check")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, p.Probe(ctx))
}

func TestGRPCProber(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	p := NewGRPCProber(conn, "wardline.chat")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs.SetServingStatus("wardline.chat", healthpb.HealthCheckResponse_SERVING)
	require.NoError(t, p.Probe(ctx))

	hs.SetServingStatus("wardline.chat", healthpb.HealthCheckResponse_NOT_SERVING)
	require.Error(t, p.Probe(ctx))

	require.Error(t, AllOf{ProberFunc(func(context.Context) error { return nil }), p}.Probe(ctx))
}
