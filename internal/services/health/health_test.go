package health

import (
	"context"
	"errors"
	"testing"
)

func TestStatus(t *testing.T) {
	svc := NewService()
	if got := svc.Status(context.Background()); !got.OK || got.Checks != nil {
		t.Fatalf("expected ok without checks, got %+v", got)
	}

	svc.Register("db", func(ctx context.Context) error { return nil })
	svc.Register("sessions", func(ctx context.Context) error { return errors.New("connection refused") })

	got := svc.Status(context.Background())
	if got.OK {
		t.Fatalf("expected failing report")
	}
	if got.Checks["db"] != "ok" || got.Checks["sessions"] != "connection refused" {
		t.Fatalf("unexpected checks %v", got.Checks)
	}
}
