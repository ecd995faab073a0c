package mysqldialect

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

func TestQueryTopology_WriterFirst(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"SERVER_ID", "SESSION_ID", "REPLICA_LAG_IN_MILLISECONDS"}).
		AddRow("instance-1", "MASTER_SESSION_ID", 0).
		AddRow("instance-2", "sess-2", 50).
		AddRow("instance-3", "sess-3", 0)
	mock.ExpectQuery("SELECT SERVER_ID, SESSION_ID").WillReturnRows(rows)

	d := Dialect{}
	hosts, err := d.QueryTopology(context.Background(), db)
	if err != nil {
		t.Fatal(err)
	}
	if len(hosts) != 3 {
		t.Fatalf("got %d hosts, want 3", len(hosts))
	}

	var writers int
	for _, h := range hosts {
		if h.Role == hostinfo.RoleWriter {
			writers++
			if h.HostID != "instance-1" {
				t.Fatalf("writer = %s, want instance-1", h.HostID)
			}
		}
	}
	if writers != 1 {
		t.Fatalf("got %d writers, want 1", writers)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplySessionState_ReadOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("SET SESSION TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))

	d := Dialect{}
	if err := d.ApplySessionState(context.Background(), db, dialect.FieldReadOnly, true); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestApplySessionState_SchemaUnsupported(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	d := Dialect{}
	err = d.ApplySessionState(context.Background(), db, dialect.FieldSchema, "x")
	if err == nil {
		t.Fatal("expected unsupported-method error")
	}
}

func TestIsNetworkError(t *testing.T) {
	d := Dialect{}
	if d.IsNetworkError(nil) {
		t.Fatal("nil should not classify as network error")
	}
}
