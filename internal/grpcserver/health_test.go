package grpcserver_test

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"smar/scraper-service/internal/grpcserver"
)

func dial(t *testing.T, h *grpcserver.Health) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := h.NewServer()
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_NotServingBeforeRefresh(t *testing.T) {
	h := grpcserver.NewHealth(func(context.Context) error { return nil }, "search")
	c := dial(t, h)
	if got := status(t, c, "search"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestHealth_RefreshFollowsPing(t *testing.T) {
	var pingErr error
	h := grpcserver.NewHealth(func(context.Context) error { return pingErr }, "search", "reviews", "toplist")
	c := dial(t, h)

	h.Refresh(context.Background())
	for _, svc := range []string{"", "search", "reviews", "toplist"} {
		if got := status(t, c, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("status(%q) = %v, want SERVING", svc, got)
		}
	}

	pingErr = errors.New("redis down")
	h.Refresh(context.Background())
	if got := status(t, c, "search"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after failed ping = %v, want NOT_SERVING", got)
	}
}

func TestHealth_UnknownService(t *testing.T) {
	h := grpcserver.NewHealth(func(context.Context) error { return nil }, "search")
	c := dial(t, h)
	if _, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "emails"}); err == nil {
		t.Error("Check(unknown) expected error, got nil")
	}
}
