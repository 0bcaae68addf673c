package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// DefaultHealthPath is appended to the API root by NewHTTPProber.
const DefaultHealthPath = "/health-check"

// Prober checks whether the backend is actually reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f(ctx).
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProber sends a HEAD request and treats any 2xx as reachable.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber probes baseURL+healthPath. An empty healthPath means
// DefaultHealthPath.
func NewHTTPProber(client *http.Client, baseURL, healthPath string) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}
	return &HTTPProber{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + healthPath,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	_ = res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("health check: unexpected status %d", res.StatusCode)
	}
	return nil
}

// GRPCProber asks a grpc.health.v1 service whether it is SERVING.
type GRPCProber struct {
	client  healthpb.HealthClient
	service string
}

// NewGRPCProber probes service over conn. An empty service checks the
// server as a whole.
func NewGRPCProber(conn grpc.ClientConnInterface, service string) *GRPCProber {
	return &GRPCProber{client: healthpb.NewHealthClient(conn), service: service}
}

// DialGRPCHealth opens a plaintext connection for health probing. No
// network I/O happens until the first probe.
func DialGRPCHealth(addr string) (*grpc.ClientConn, error) {
	kacp := keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             10 * time.Second,
		PermitWithoutStream: true,
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create grpc health client for %s: %w", addr, err)
	}
	return conn, nil
}

// Probe implements Prober.
func (p *GRPCProber) Probe(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health check: status %s", resp.GetStatus())
	}
	return nil
}

// AllOf is reachable only when every prober succeeds.
type AllOf []Prober

// Probe implements Prober.
func (a AllOf) Probe(ctx context.Context) error {
	for _, p := range a {
		if err := p.Probe(ctx); err != nil {
			return err
		}
	}
	return nil
}
