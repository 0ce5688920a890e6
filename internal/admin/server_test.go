package admin

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/huntsync/internal/logging"
	"github.com/signalsfoundry/huntsync/internal/observability"
)

func startAdmin(t *testing.T) (*Server, healthpb.HealthClient, *observability.SyncCollector) {
	t.Helper()
	collector, err := observability.NewSyncCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewSyncCollector: %v", err)
	}
	srv := NewServer(logging.Noop(), collector)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn), collector
}

func TestHealthReportsServing(t *testing.T) {
	_, client, collector := startAdmin(t)

	for _, svc := range []string{ServiceOverall, ServiceSync, ServicePersistence} {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
		if err != nil {
			t.Fatalf("Check(%q): %v", svc, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("Check(%q) = %v, want SERVING", svc, resp.GetStatus())
		}
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 3 {
		t.Fatalf("admin request counter = %v, want 3", got)
	}
}

func TestSetServingFlipsPersistence(t *testing.T) {
	srv, client, _ := startAdmin(t)
	srv.SetServing(ServicePersistence, false)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServicePersistence})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", resp.GetStatus())
	}
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceSync})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("sync status = %v (err %v), want SERVING", resp.GetStatus(), err)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, client, _ := startAdmin(t)

	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDMetadataKey, "req-123")
	var header metadata.MD
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := firstHeader(header, requestIDMetadataKey); got != "req-123" {
		t.Fatalf("x-request-id = %q, want req-123", got)
	}
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	_, client, _ := startAdmin(t)

	var header metadata.MD
	if _, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := firstHeader(header, requestIDMetadataKey); got == "" {
		t.Fatalf("x-request-id missing from response header")
	}
}
