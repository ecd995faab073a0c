package wrapper

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/plugin"
	"github.com/nethalo/clusterlink/internal/session"
)

type fakeDialect struct {
	networkErr bool
}

func (fakeDialect) Name() string { return "fake" }
func (fakeDialect) Open(context.Context, map[string]string) (*sql.DB, error) {
	return nil, nil
}
func (fakeDialect) PreparePoolProperties(props map[string]string) map[string]string { return props }
func (fakeDialect) QueryTopology(context.Context, *sql.DB) ([]hostinfo.HostInfo, error) {
	return nil, nil
}
func (fakeDialect) IdentifyConnection(context.Context, *sql.DB) (string, error) { return "", nil }
func (fakeDialect) Probe(context.Context, *sql.DB) error                        { return nil }
func (f fakeDialect) IsNetworkError(error) bool                                 { return f.networkErr }
func (fakeDialect) IsAccessDeniedError(error) bool                              { return false }
func (fakeDialect) ApplySessionState(context.Context, *sql.DB, dialect.SessionField, any) error {
	return nil
}
func (fakeDialect) ReadOnlyStatement(readOnly bool) string {
	if readOnly {
		return "SET TRANSACTION READ ONLY"
	}
	return "SET TRANSACTION READ WRITE"
}

func newWrapper(t *testing.T, d dialect.DriverDialect) (*ConnectionWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	topo := clustertopology.NewService(0, 0, 0)
	t.Cleanup(topo.Close)

	w := New(DefaultConfig(), d, "cluster-1", nil, topo, nil, nil, session.NewService(), nil, true, db, hostinfo.HostInfo{HostID: "writer-1", Role: hostinfo.RoleWriter})
	return w, mock
}

func TestExecute_RunsThroughDefaultPlugin(t *testing.T) {
	w, mock := newWrapper(t, fakeDialect{})
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := w.Execute(context.Background(), "INSERT INTO t VALUES (1)")
	if err != nil {
		t.Fatal(err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		t.Fatalf("got %d rows affected, want 1", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSetReadOnly_IssuesStatementAndRecordsState(t *testing.T) {
	w, mock := newWrapper(t, fakeDialect{})
	mock.ExpectExec("SET TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := w.SetReadOnly(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if !w.IsReadOnly() {
		t.Fatal("expected IsReadOnly to report true after SetReadOnly(true)")
	}
}

func TestPluginChain_InterceptsExecute(t *testing.T) {
	w, mock := newWrapper(t, fakeDialect{})
	mock.ExpectExec("INSERT INTO t").WillReturnResult(sqlmock.NewResult(1, 1))

	var seen []string
	w.plugins = []plugin.Plugin{
		recordingPlugin{name: "observer", methods: map[string]struct{}{plugin.MethodExecute: {}}, trace: &seen},
	}

	if _, err := w.Execute(context.Background(), "INSERT INTO t VALUES (1)"); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != "pre:observer" || seen[1] != "post:observer" {
		t.Fatalf("expected plugin to wrap the call, got %v", seen)
	}
}

type recordingPlugin struct {
	name    string
	methods map[string]struct{}
	trace   *[]string
}

func (p recordingPlugin) Name() string                          { return p.name }
func (p recordingPlugin) SubscribedMethods() map[string]struct{} { return p.methods }
func (p recordingPlugin) Execute(ctx context.Context, call *plugin.Call, next plugin.Next) (any, error) {
	*p.trace = append(*p.trace, "pre:"+p.name)
	res, err := next(ctx, call)
	*p.trace = append(*p.trace, "post:"+p.name)
	return res, err
}
