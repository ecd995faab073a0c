// Package wrapper implements the ConnectionWrapper, per spec.md §3/§6: the
// logical client held by the application, wiring together the plugin
// pipeline, the failover coordinator, the read/write splitter, and the
// session-state service behind a single stable identity whose underlying
// physical target can be transparently replaced.
package wrapper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nethalo/clusterlink/internal/clustertopology"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/failover"
	"github.com/nethalo/clusterlink/internal/hostinfo"
	"github.com/nethalo/clusterlink/internal/plugin"
	"github.com/nethalo/clusterlink/internal/rwsplit"
	"github.com/nethalo/clusterlink/internal/session"
	"github.com/nethalo/clusterlink/internal/sqlclassify"
)

// Config carries the per-logical-connection tunables relevant to the
// wrapper itself; component-specific tunables (failover.Config,
// rwsplit.Config, healthmonitor.Params) are supplied by their own
// constructors.
type Config struct {
	ConnectTimeout time.Duration // wrapperConnectTimeout, default 10s
	QueryTimeout   time.Duration // wrapperQueryTimeout, default 20s
	RollbackOnSwitch bool        // rollbackOnSwitch, default true
}

// DefaultConfig returns spec.md §6's documented wrapper timeout defaults.
func DefaultConfig() Config {
	return Config{ConnectTimeout: 10 * time.Second, QueryTimeout: 20 * time.Second, RollbackOnSwitch: true}
}

// ConnectionWrapper is the logical client held by the application, per
// spec.md §3 ConnectionWrapper.
type ConnectionWrapper struct {
	cfg       Config
	dialect   dialect.DriverDialect
	clusterID string
	props     map[string]string

	topology  *clustertopology.Service
	failover  *failover.Coordinator
	rwsplit   *rwsplit.Splitter
	sessions  *session.Service
	plugins   []plugin.Plugin
	autoSort  bool

	mu            sync.Mutex
	target        *sql.DB
	host          hostinfo.HostInfo
	inTransaction bool
	closed        bool
}

// New constructs a ConnectionWrapper around an already-established initial
// physical connection. The caller (the connect-time plugin stack, spec.md
// §4.10) is responsible for resolving the initial target and HostInfo.
func New(cfg Config, d dialect.DriverDialect, clusterID string, props map[string]string, topo *clustertopology.Service, fc *failover.Coordinator, rs *rwsplit.Splitter, sessions *session.Service, plugins []plugin.Plugin, autoSort bool, initialTarget *sql.DB, initialHost hostinfo.HostInfo) *ConnectionWrapper {
	w := &ConnectionWrapper{
		cfg: cfg, dialect: d, clusterID: clusterID, props: props,
		topology: topo, failover: fc, rwsplit: rs, sessions: sessions,
		plugins: plugins, autoSort: autoSort,
		target: initialTarget, host: initialHost,
	}
	if rs != nil {
		rs.SeedWriter(initialTarget, initialHost)
	}
	return w
}

// HostInfo returns the wrapper's currently active target host.
func (w *ConnectionWrapper) HostInfo() hostinfo.HostInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.host
}

// IsValid reports whether the current physical target responds to a probe.
func (w *ConnectionWrapper) IsValid(ctx context.Context) bool {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	if target == nil {
		return false
	}
	return w.dialect.Probe(ctx, target) == nil
}

// Rollback issues a rollback on the current target and clears the
// in-transaction flag.
func (w *ConnectionWrapper) Rollback(ctx context.Context) error {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	_, err := target.ExecContext(ctx, "ROLLBACK")
	w.mu.Lock()
	w.inTransaction = false
	w.mu.Unlock()
	return err
}

// Query runs a read query through the plugin chain, per spec.md §4.10.
func (w *ConnectionWrapper) Query(ctx context.Context, sqlText string, args ...any) (*sql.Rows, error) {
	res, err := w.runThroughChain(ctx, plugin.MethodExecute, sqlText, args, func(ctx context.Context, target *sql.DB) (any, error) {
		return target.QueryContext(ctx, sqlText, args...)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := res.(*sql.Rows)
	return rows, nil
}

// Execute runs a write statement (or any execute-method call) through the
// plugin chain, per spec.md §4.10.
func (w *ConnectionWrapper) Execute(ctx context.Context, sqlText string, args ...any) (sql.Result, error) {
	res, err := w.runThroughChain(ctx, plugin.MethodExecute, sqlText, args, func(ctx context.Context, target *sql.DB) (any, error) {
		return target.ExecContext(ctx, sqlText, args...)
	})
	if err != nil {
		return nil, err
	}
	result, _ := res.(sql.Result)
	return result, nil
}

// runThroughChain handles the read/write-split SET READ ONLY interception
// (spec.md §4.5), transaction-boundary bookkeeping, and network-error ->
// failover dispatch (spec.md §4.4) uniformly for Query and Execute, then
// invokes do against whatever target ends up active.
func (w *ConnectionWrapper) runThroughChain(ctx context.Context, method string, sqlText string, args []any, do func(context.Context, *sql.DB) (any, error)) (any, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, fmt.Errorf("wrapper: connection is closed")
	}
	currentRole := w.host.Role
	inTx := w.inTransaction
	w.mu.Unlock()

	if w.rwsplit != nil {
		if db, host, switched, err := w.rwsplit.HandleExecute(ctx, sqlText, currentRole, inTx); err != nil {
			return nil, err
		} else if switched {
			w.mu.Lock()
			w.target = db
			w.host = host
			w.mu.Unlock()
			if w.sessions != nil {
				_ = w.sessions.TransferTo(ctx, w.dialect, db)
			}
		}
	}

	w.trackTransactionBoundary(sqlText)

	qctx := ctx
	var cancel context.CancelFunc
	if w.cfg.QueryTimeout > 0 {
		qctx, cancel = context.WithTimeout(ctx, w.cfg.QueryTimeout)
		defer cancel()
	}

	w.mu.Lock()
	activeTarget := w.target
	activeHost := w.host
	w.mu.Unlock()

	terminal := plugin.DefaultPlugin{Do: func(ctx context.Context, _ *plugin.Call) (any, error) {
		return do(ctx, activeTarget)
	}}
	chain := plugin.Build(w.plugins, terminal, w.autoSort)

	call := &plugin.Call{Method: method, Args: map[string]any{
		"sql": sqlText, "args": args, "target": activeTarget, "host": activeHost.Host,
	}}
	result, err := chain.Run(qctx, call)
	if err == nil {
		return result, nil
	}
	if !w.dialect.IsNetworkError(err) {
		return nil, err
	}

	w.mu.Lock()
	failedHost := w.host
	inTx = w.inTransaction
	w.mu.Unlock()

	if w.failover == nil {
		return nil, err
	}
	outcome, ferr := w.failover.HandleNetworkError(ctx, failedHost, inTx)
	if outcome != nil {
		w.mu.Lock()
		w.target = outcome.Target
		w.host = outcome.NewHost
		w.inTransaction = false
		w.mu.Unlock()
		if w.rwsplit != nil {
			w.rwsplit.InvalidateOnFailover()
		}
		if w.sessions != nil {
			_ = w.sessions.TransferTo(ctx, w.dialect, outcome.Target)
		}
	}
	return nil, ferr
}

// trackTransactionBoundary updates the in-transaction flag when sqlText is
// a BEGIN/START TRANSACTION or COMMIT/ROLLBACK statement, per spec.md §4.4's
// inTransaction bookkeeping.
func (w *ConnectionWrapper) trackTransactionBoundary(sqlText string) {
	switch sqlclassify.ClassifyBoundary(sqlText) {
	case sqlclassify.BoundaryBegin:
		w.mu.Lock()
		w.inTransaction = true
		w.mu.Unlock()
	case sqlclassify.BoundaryEnd:
		w.mu.Lock()
		w.inTransaction = false
		w.mu.Unlock()
	}
}

// SetReadOnly issues the dialect's read-only toggle statement through the
// read/write splitter's SET READ ONLY interception path, per spec.md §4.5.
func (w *ConnectionWrapper) SetReadOnly(ctx context.Context, readOnly bool) error {
	stmt := w.dialect.ReadOnlyStatement(readOnly)
	_, err := w.Execute(ctx, stmt)
	if err == nil {
		w.sessions.Set(dialect.FieldReadOnly, readOnly)
	}
	return err
}

// IsReadOnly reports the session-state service's current readOnly value.
func (w *ConnectionWrapper) IsReadOnly() bool {
	v, ok := w.sessions.Current(dialect.FieldReadOnly)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SetAutoCommit sets autoCommit on the current target and records it.
func (w *ConnectionWrapper) SetAutoCommit(ctx context.Context, on bool) error {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	if err := w.dialect.ApplySessionState(ctx, target, dialect.FieldAutoCommit, on); err != nil {
		if !isUnsupportedMethod(err) {
			return err
		}
	}
	w.sessions.Set(dialect.FieldAutoCommit, on)
	return nil
}

// GetAutoCommit reports the session-state service's current autoCommit value.
func (w *ConnectionWrapper) GetAutoCommit() bool {
	v, ok := w.sessions.Current(dialect.FieldAutoCommit)
	if !ok {
		return true
	}
	b, _ := v.(bool)
	return b
}

// SetCatalog, SetSchema, SetTransactionIsolation follow the same
// apply-then-record pattern, per spec.md §4.9.
func (w *ConnectionWrapper) SetCatalog(ctx context.Context, catalog string) error {
	return w.applyAndRecord(ctx, dialect.FieldCatalog, catalog)
}

func (w *ConnectionWrapper) GetCatalog() string {
	v, _ := w.sessions.Current(dialect.FieldCatalog)
	s, _ := v.(string)
	return s
}

func (w *ConnectionWrapper) SetSchema(ctx context.Context, schema string) error {
	return w.applyAndRecord(ctx, dialect.FieldSchema, schema)
}

func (w *ConnectionWrapper) GetSchema() string {
	v, _ := w.sessions.Current(dialect.FieldSchema)
	s, _ := v.(string)
	return s
}

func (w *ConnectionWrapper) SetTransactionIsolation(ctx context.Context, level dialect.IsolationLevel) error {
	return w.applyAndRecord(ctx, dialect.FieldIsolation, level)
}

func (w *ConnectionWrapper) GetTransactionIsolation() dialect.IsolationLevel {
	v, ok := w.sessions.Current(dialect.FieldIsolation)
	if !ok {
		return dialect.ReadCommitted
	}
	lvl, _ := v.(dialect.IsolationLevel)
	return lvl
}

func isUnsupportedMethod(err error) bool {
	var unsupported *errs.UnsupportedMethodError
	return errors.As(err, &unsupported)
}

func (w *ConnectionWrapper) applyAndRecord(ctx context.Context, field dialect.SessionField, value any) error {
	w.mu.Lock()
	target := w.target
	w.mu.Unlock()
	if err := w.dialect.ApplySessionState(ctx, target, field, value); err != nil {
		if !isUnsupportedMethod(err) {
			return err
		}
	}
	w.sessions.Set(field, value)
	return nil
}

// End closes the logical connection: if rollbackOnSwitch-style cleanup is
// configured and a transaction is open, rolls it back; resets session state
// to pristine values; closes the active physical target.
func (w *ConnectionWrapper) End(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	target := w.target
	inTx := w.inTransaction
	w.closed = true
	w.mu.Unlock()

	if inTx && w.cfg.RollbackOnSwitch {
		_, _ = target.ExecContext(ctx, "ROLLBACK")
	}
	if w.sessions != nil {
		_ = w.sessions.Reset(ctx, w.dialect, target)
	}
	return target.Close()
}
