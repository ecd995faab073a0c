package rwsplit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

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
	}
}

func newMockDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHandleExecute_SwitchesToReaderThenBackToWriter(t *testing.T) {
	topo := clustertopology.NewService(time.Hour, time.Hour, time.Minute)
	defer topo.Close()
	d := stubDialect{hosts: steadyHosts()}
	if _, err := topo.Refresh(context.Background(), "cluster-z", d, nil); err != nil {
		t.Fatal(err)
	}

	connected := make(chan string, 10)
	connect := func(ctx context.Context, h hostinfo.HostInfo, props map[string]string) (*sql.DB, error) {
		connected <- h.HostID
		return newMockDB(t), nil
	}

	sp := New(DefaultConfig(), topo, "cluster-z", connect, nil)
	writerDB := newMockDB(t)
	sp.SeedWriter(writerDB, hostinfo.HostInfo{HostID: "writer-1", Role: hostinfo.RoleWriter})

	db, host, switched, err := sp.HandleExecute(context.Background(), "SET TRANSACTION READ ONLY", hostinfo.RoleWriter, false)
	if err != nil {
		t.Fatal(err)
	}
	if !switched || host.Role != hostinfo.RoleReader || db == nil {
		t.Fatalf("expected switch to reader, got switched=%v host=%+v", switched, host)
	}

	db2, host2, switched2, err := sp.HandleExecute(context.Background(), "SET TRANSACTION READ WRITE", hostinfo.RoleReader, false)
	if err != nil {
		t.Fatal(err)
	}
	if !switched2 || host2.Role != hostinfo.RoleWriter || db2 != writerDB {
		t.Fatalf("expected switch back to cached writer, got switched=%v host=%+v db2==writerDB=%v", switched2, host2, db2 == writerDB)
	}
}

func TestHandleExecute_ReadWriteInTransactionFails(t *testing.T) {
	topo := clustertopology.NewService(time.Hour, time.Hour, time.Minute)
	defer topo.Close()
	d := stubDialect{hosts: steadyHosts()}
	if _, err := topo.Refresh(context.Background(), "cluster-w", d, nil); err != nil {
		t.Fatal(err)
	}

	sp := New(DefaultConfig(), topo, "cluster-w", func(ctx context.Context, h hostinfo.HostInfo, props map[string]string) (*sql.DB, error) {
		return newMockDB(t), nil
	}, nil)

	_, _, _, err := sp.HandleExecute(context.Background(), "SET TRANSACTION READ WRITE", hostinfo.RoleReader, true)
	if err == nil {
		t.Fatal("expected error switching read-write inside a transaction")
	}
}

func TestHandleExecute_NoToggleReturnsUnchanged(t *testing.T) {
	topo := clustertopology.NewService(time.Hour, time.Hour, time.Minute)
	defer topo.Close()
	sp := New(DefaultConfig(), topo, "cluster-v", func(ctx context.Context, h hostinfo.HostInfo, props map[string]string) (*sql.DB, error) {
		return newMockDB(t), nil
	}, nil)

	db, _, switched, err := sp.HandleExecute(context.Background(), "SELECT 1", hostinfo.RoleWriter, false)
	if err != nil || switched || db != nil {
		t.Fatalf("expected no-op, got db=%v switched=%v err=%v", db, switched, err)
	}
}
