package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/connectivity"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func TestHealthServerTracksStore(t *testing.T) {
	repo := &flakyRepo{Repository: newTestRepo(t)}
	hs := NewHealthServer(repo)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hs.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///relay",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	prober := connectivity.NewGRPCProber(conn, HealthService)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer probeCancel()

	require.Eventually(t, func() bool { return prober.Probe(probeCtx) == nil }, 2*time.Second, 10*time.Millisecond)

	repo.setPingErr(errors.New("locked out"))
	hs.Refresh(context.Background())
	require.Error(t, prober.Probe(probeCtx))
}
