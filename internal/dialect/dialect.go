// Package dialect defines the narrow per-engine adapter every upper-layer
// component drives instead of hand-rolling engine-specific SQL, per
// spec.md §2 L3 and the "DriverDialect adapter" boundary in spec.md §1.
package dialect

import (
	"context"
	"database/sql"

	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// SessionField is one of the five session attributes clusterlink tracks and
// transfers across a target switch, per spec.md §3 SessionState.
type SessionField string

// OrderedSessionFields is the fixed iteration order for session-state
// transfer and restore, resolving spec.md §9's "session-state iteration
// order" open question.
var OrderedSessionFields = []SessionField{
	FieldAutoCommit, FieldReadOnly, FieldCatalog, FieldSchema, FieldIsolation,
}

const (
	FieldAutoCommit SessionField = "autoCommit"
	FieldReadOnly   SessionField = "readOnly"
	FieldCatalog    SessionField = "catalog"
	FieldSchema     SessionField = "schema"
	FieldIsolation  SessionField = "transactionIsolation"
)

// IsolationLevel mirrors spec.md §6's four recognized isolation levels.
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = 0
	ReadCommitted   IsolationLevel = 1
	RepeatableRead  IsolationLevel = 2
	Serializable    IsolationLevel = 3
)

// DriverDialect is the per-engine adapter: topology/role queries, pool
// parameter preparation, error classification, and session-state statements.
// MySQL- and PostgreSQL-compatible engines (including RDS Multi-AZ and
// Aurora variants) each get one implementation.
type DriverDialect interface {
	// Name identifies the dialect for logging ("mysql", "postgres").
	Name() string

	// Open opens a *sql.DB for the given connection properties. It does not
	// verify connectivity; callers should Probe or PingContext afterward.
	Open(ctx context.Context, props map[string]string) (*sql.DB, error)

	// PreparePoolProperties derives the property set used to key and
	// configure an internal connection pool from user-supplied properties
	// (spec.md §4.7 step 2).
	PreparePoolProperties(props map[string]string) map[string]string

	// QueryTopology runs the cluster topology query against db and returns
	// the full host list, writer first by convention.
	QueryTopology(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, error)

	// IdentifyConnection asks db which topology host it is currently
	// connected to, returning that host's instance identifier.
	IdentifyConnection(ctx context.Context, db *sql.DB) (string, error)

	// Probe issues a cheap liveness check ("SELECT 1" equivalent).
	Probe(ctx context.Context, db *sql.DB) error

	// IsNetworkError classifies err using the dialect's SQLSTATE/message
	// table (spec.md §7).
	IsNetworkError(err error) bool

	// IsAccessDeniedError classifies err as an authentication/authorization
	// failure (e.g. SQLSTATE 28000/28P01), which must NOT trigger failover.
	IsAccessDeniedError(err error) bool

	// ApplySessionState issues the statement that sets field to value on db.
	// An UnsupportedMethodError-shaped error for a field the engine does not
	// support (e.g. catalog on PostgreSQL) must be returned so callers can
	// swallow it per spec.md §4.9.
	ApplySessionState(ctx context.Context, db *sql.DB, field SessionField, value any) error

	// SetReadOnlyStatement/IsReadOnlyTogglingStatement support the minimal
	// statement classification spec.md allows ("no query parsing beyond
	// detecting SET READ ONLY / transaction-boundary statements"); dialects
	// differ in the literal SQL used to express the toggle.
	ReadOnlyStatement(readOnly bool) string
}
