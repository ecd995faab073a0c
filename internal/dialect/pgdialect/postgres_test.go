package pgdialect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

func TestQueryTopology_MarksMasterSessionAsWriter(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"server_id", "session_id", "replica_lag_in_msec"}).
		AddRow("instance-1", "MASTER_SESSION_ID", 0).
		AddRow("instance-2", "sess-2", 0).
		AddRow("instance-3", "sess-3", 40)
	mock.ExpectQuery("SELECT server_id, session_id").WillReturnRows(rows)

	d := Dialect{}
	hosts, err := d.QueryTopology(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 3 {
		t.Fatalf("got %d hosts, want 3", len(hosts))
	}

	byID := map[string]hostinfo.HostInfo{}
	for _, h := range hosts {
		byID[h.HostID] = h
	}
	if byID["instance-1"].Role != hostinfo.RoleWriter {
		t.Fatalf("instance-1 role = %v, want writer", byID["instance-1"].Role)
	}
	if byID["instance-2"].Role != hostinfo.RoleReader || byID["instance-2"].Weight != 2 {
		t.Fatalf("instance-2 = %+v, want reader with weight 2 (zero lag)", byID["instance-2"])
	}
	if byID["instance-3"].Role != hostinfo.RoleReader || byID["instance-3"].Weight != 1 {
		t.Fatalf("instance-3 = %+v, want reader with weight 1 (lagging)", byID["instance-3"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestReadOnlyStatement(t *testing.T) {
	d := Dialect{}
	if got := d.ReadOnlyStatement(true); got != "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY" {
		t.Fatalf("got %q", got)
	}
	if got := d.ReadOnlyStatement(false); got != "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE" {
		t.Fatalf("got %q", got)
	}
}

func TestApplySessionState_RejectsUnsupportedFields(t *testing.T) {
	d := Dialect{}
	for _, field := range []dialect.SessionField{dialect.FieldAutoCommit, dialect.FieldCatalog} {
		if err := d.ApplySessionState(context.Background(), nil, field, nil); err == nil {
			t.Fatalf("expected %s to be unsupported on postgres", field)
		}
	}
}

func TestIsNetworkError_MatchesConnectionTerminatedMessage(t *testing.T) {
	d := Dialect{}
	if d.IsNetworkError(nil) {
		t.Fatal("nil should not be a network error")
	}
	if !d.IsNetworkError(&pqConnErr{}) {
		t.Fatal("expected a \"connection terminated unexpectedly\" error to be a network error")
	}
}

type pqConnErr struct{}

func (pqConnErr) Error() string { return "connection terminated unexpectedly" }
