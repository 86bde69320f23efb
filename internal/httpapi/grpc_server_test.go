package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, h *GRPCHealth) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := NewGRPCServer(h)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func TestGRPCHealthServing(t *testing.T) {
	h := NewGRPCHealth(ReadyProbe{})
	conn, cleanup := startBufGRPC(t, h)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first refresh, got %s", resp.GetStatus())
	}

	if !h.Refresh(ctx) {
		t.Fatal("expected refresh to succeed")
	}
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

type failingReadiness struct{}

func (f failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestGRPCHealthReflectsFailure(t *testing.T) {
	h := NewGRPCHealth(failingReadiness{})
	conn, cleanup := startBufGRPC(t, h)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if h.Refresh(ctx) {
		t.Fatal("expected refresh to fail")
	}
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCHealthRunStopsWithContext(t *testing.T) {
	h := NewGRPCHealth(ReadyProbe{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, 10*time.Millisecond) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
