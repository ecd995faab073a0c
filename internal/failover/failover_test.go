package failover

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

func sqlmockNew(t *testing.T) (*sql.DB, sqlmock.Sqlmock, error) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock, err
}

type stubDialect struct {
	dialect.DriverDialect
	hosts []hostinfo.HostInfo
}

func (s stubDialect) QueryTopology(context.Context, *sql.DB) ([]hostinfo.HostInfo, error) {
	return s.hosts, nil
}

func steadyHosts() []hostinfo.HostInfo {
	return []hostinfo.HostInfo{
		{HostID: "writer-1", Role: hostinfo.RoleWriter, Availability: hostinfo.Available},
		{HostID: "reader-1", Role: hostinfo.RoleReader, Availability: hostinfo.Available},
		{HostID: "reader-2", Role: hostinfo.RoleReader, Availability: hostinfo.Available},
	}
}

func seedTopology(t *testing.T, topo *clustertopology.Service, clusterID string, d dialect.DriverDialect) {
	t.Helper()
	if _, err := topo.Refresh(context.Background(), clusterID, d, nil); err != nil {
		t.Fatal(err)
	}
}

func TestReaderFailover_ConnectsToAvailableReader(t *testing.T) {
	topo := clustertopology.NewService(time.Hour, time.Hour, time.Minute)
	defer topo.Close()
	d := stubDialect{hosts: steadyHosts()}
	seedTopology(t, topo, "cluster-x", d)

	connected := make(chan string, 10)
	connector := func(ctx context.Context, h hostinfo.HostInfo) (*sql.DB, error) {
		connected <- h.HostID
		if h.Role != hostinfo.RoleReader {
			return nil, errors.New("not a reader")
		}
		db, _, _ := sqlmockNew(t)
		return db, nil
	}

	cfg := DefaultConfig(ModeStrictReader)
	cfg.FailoverTimeout = 2 * time.Second
	cfg.ReaderConnectTimeout = time.Second
	co := NewCoordinator(cfg, topo, d, "cluster-x", connector)

	outcome, err := co.HandleNetworkError(context.Background(), hostinfo.HostInfo{HostID: "writer-1"}, false)
	if err == nil {
		t.Fatal("expected a typed failover outcome error")
	}
	var success *errs.FailoverSuccessError
	if !errors.As(err, &success) {
		t.Fatalf("expected FailoverSuccessError, got %v (%T)", err, err)
	}
	if outcome.NewHost.Role != hostinfo.RoleReader {
		t.Fatalf("expected reader target, got %+v", outcome.NewHost)
	}
}

func TestHandleNetworkError_TransactionSurfacesUnknownResolution(t *testing.T) {
	topo := clustertopology.NewService(time.Hour, time.Hour, time.Minute)
	defer topo.Close()
	d := stubDialect{hosts: steadyHosts()}
	seedTopology(t, topo, "cluster-y", d)

	connector := func(ctx context.Context, h hostinfo.HostInfo) (*sql.DB, error) {
		if h.Role == hostinfo.RoleReader {
			db, _, _ := sqlmockNew(t)
			return db, nil
		}
		return nil, errors.New("writer down")
	}

	cfg := DefaultConfig(ModeReaderOrWriter)
	cfg.FailoverTimeout = 2 * time.Second
	cfg.ReaderConnectTimeout = time.Second
	co := NewCoordinator(cfg, topo, d, "cluster-y", connector)

	_, err := co.HandleNetworkError(context.Background(), hostinfo.HostInfo{HostID: "writer-1"}, true)
	var unknown *errs.TransactionResolutionUnknownError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected TransactionResolutionUnknownError, got %v (%T)", err, err)
	}
}
