package healthmonitor

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/dialect"
)

type fakeDialect struct {
	dialect.DriverDialect
	fail atomic.Bool
}

func (f *fakeDialect) Probe(ctx context.Context, db *sql.DB) error {
	if f.fail.Load() {
		return context.DeadlineExceeded
	}
	return nil
}

func TestMonitor_MarksHostUnhealthyAfterThreshold(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	fd := &fakeDialect{}
	fd.fail.Store(true)

	p := Params{
		Host:                     "host-1",
		FailureDetectionTime:     0,
		FailureDetectionInterval: 5 * time.Millisecond,
		FailureDetectionCount:    2,
	}
	svc := NewService(time.Minute)
	defer svc.Close()

	opened := make(chan struct{}, 4)
	m, err := svc.StartOrGet(p, fd, func(context.Context) (*sql.DB, error) {
		select {
		case opened <- struct{}{}:
		default:
		}
		return db, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(500 * time.Millisecond)
	for {
		if m.IsHostUnhealthy() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never marked host unhealthy")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMonitoringProps_Promotion(t *testing.T) {
	out := MonitoringProps(map[string]string{
		"user":              "app",
		"monitoring_user":   "monitor",
		"password":          "secret",
		"monitoring_socket": "5s",
	})
	if out["user"] != "monitor" {
		t.Fatalf("expected monitoring_user to override user, got %q", out["user"])
	}
	if out["password"] != "secret" {
		t.Fatalf("expected unrelated key untouched, got %q", out["password"])
	}
	if out["socket"] != "5s" {
		t.Fatalf("expected monitoring_socket to promote to socket, got %q", out["socket"])
	}
}
