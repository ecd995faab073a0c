package pool

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// fakeDialect opens a single shared sqlmock *sql.DB regardless of props, so
// tests can assert on pool-sharing behavior without a real server.
type fakeDialect struct {
	db *sql.DB
}

func (f fakeDialect) Name() string { return "fake" }
func (f fakeDialect) Open(context.Context, map[string]string) (*sql.DB, error) {
	return f.db, nil
}
func (f fakeDialect) PreparePoolProperties(props map[string]string) map[string]string { return props }
func (f fakeDialect) QueryTopology(context.Context, *sql.DB) ([]hostinfo.HostInfo, error) {
	return nil, nil
}
func (f fakeDialect) IdentifyConnection(context.Context, *sql.DB) (string, error) { return "", nil }
func (f fakeDialect) Probe(context.Context, *sql.DB) error                        { return nil }
func (f fakeDialect) IsNetworkError(error) bool                                   { return false }
func (f fakeDialect) IsAccessDeniedError(error) bool                              { return false }
func (f fakeDialect) ApplySessionState(context.Context, *sql.DB, dialect.SessionField, any) error {
	return nil
}
func (f fakeDialect) ReadOnlyStatement(bool) string { return "" }

func TestConnect_RejectsNonInstanceEndpoint(t *testing.T) {
	p := NewProvider()
	defer p.Close()

	_, err := p.Connect(context.Background(), fakeDialect{}, "mydb.cluster-abc.us-east-1.rds.amazonaws.com", nil)
	if err == nil {
		t.Fatal("expected error for cluster endpoint")
	}
}

func TestConnect_SharesPoolForSameKey(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	p := NewProvider()
	defer p.Close()
	fd := fakeDialect{db: db}

	db1, err := p.Connect(context.Background(), fd, "instance-1.abc123.us-east-1.rds.amazonaws.com", map[string]string{"user": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	db2, err := p.Connect(context.Background(), fd, "instance-1.abc123.us-east-1.rds.amazonaws.com", map[string]string{"user": "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if db1 != db2 {
		t.Fatal("expected same pooled *sql.DB for identical PoolKey")
	}
}
