package session

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
)

type recordingDialect struct {
	dialect.DriverDialect
	applied []dialect.SessionField
	fail    dialect.SessionField
}

func (d *recordingDialect) ApplySessionState(_ context.Context, _ *sql.DB, field dialect.SessionField, _ any) error {
	if field == d.fail {
		return errs.NewUnsupportedMethod(string(field))
	}
	d.applied = append(d.applied, field)
	return nil
}

func TestTransferTo_OrderedAndSwallowsUnsupported(t *testing.T) {
	s := NewService()
	s.Set(dialect.FieldReadOnly, true)
	s.Set(dialect.FieldAutoCommit, false)
	s.Set(dialect.FieldSchema, "app")

	d := &recordingDialect{fail: dialect.FieldSchema}
	if err := s.TransferTo(context.Background(), d, nil); err != nil {
		t.Fatal(err)
	}

	want := []dialect.SessionField{dialect.FieldAutoCommit, dialect.FieldReadOnly}
	if len(d.applied) != len(want) {
		t.Fatalf("applied %v, want %v", d.applied, want)
	}
	for i := range want {
		if d.applied[i] != want[i] {
			t.Fatalf("applied %v, want %v", d.applied, want)
		}
	}
}

func TestReset_RestoresPristineOnly(t *testing.T) {
	s := NewService()
	s.Set(dialect.FieldAutoCommit, false) // pristine captured as false (no prior current)
	s.Set(dialect.FieldAutoCommit, true)  // pristine unchanged, current now true

	d := &recordingDialect{}
	if err := s.Reset(context.Background(), d, nil); err != nil {
		t.Fatal(err)
	}
	if len(d.applied) != 1 || d.applied[0] != dialect.FieldAutoCommit {
		t.Fatalf("expected one restore of autoCommit, got %v", d.applied)
	}
}

func TestTransferTo_Disabled(t *testing.T) {
	s := NewService()
	s.TransferOnSwitch = false
	s.Set(dialect.FieldReadOnly, true)

	d := &recordingDialect{}
	if err := s.TransferTo(context.Background(), d, nil); err != nil {
		t.Fatal(err)
	}
	if len(d.applied) != 0 {
		t.Fatalf("expected no statements applied, got %v", d.applied)
	}
}
