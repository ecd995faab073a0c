// Package pgdialect adapts clusterlink's DriverDialect contract to Aurora
// PostgreSQL / RDS PostgreSQL, using lib/pq for wire-level error typing.
package pgdialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// Dialect implements dialect.DriverDialect for Aurora/RDS PostgreSQL.
type Dialect struct{}

var _ dialect.DriverDialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (d Dialect) Open(_ context.Context, props map[string]string) (*sql.DB, error) {
	dsn := buildDSN(props)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return db, nil
}

func buildDSN(props map[string]string) string {
	host := props["host"]
	port := props["port"]
	if port == "" {
		port = "5432"
	}
	user := props["user"]
	password := props["password"]
	database := props["database"]
	if database == "" {
		database = "postgres"
	}
	sslmode := props["sslmode"]
	if sslmode == "" {
		sslmode = "prefer"
	}

	parts := []string{
		"host=" + host,
		"port=" + port,
		"user=" + user,
		"password=" + password,
		"dbname=" + database,
		"sslmode=" + sslmode,
	}
	for k, v := range props {
		switch k {
		case "host", "port", "user", "password", "database", "sslmode":
			continue
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}

func (d Dialect) PreparePoolProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// QueryTopology queries Aurora PostgreSQL's aurora_replica_status().
func (d Dialect) QueryTopology(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT server_id, session_id, COALESCE(replica_lag_in_msec, 0)
		FROM aurora_replica_status()
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: topology query: %w", err)
	}
	defer rows.Close()

	var hosts []hostinfo.HostInfo
	for rows.Next() {
		var serverID, sessionID string
		var lagMillis float64
		if err := rows.Scan(&serverID, &sessionID, &lagMillis); err != nil {
			return nil, fmt.Errorf("postgres: scanning topology row: %w", err)
		}
		role := hostinfo.RoleReader
		weight := 1
		if sessionID == "MASTER_SESSION_ID" {
			role = hostinfo.RoleWriter
		} else if lagMillis == 0 {
			weight = 2
		}
		hosts = append(hosts, hostinfo.HostInfo{
			Host:         serverID,
			HostID:       serverID,
			Role:         role,
			Availability: hostinfo.Available,
			Weight:       weight,
		})
	}
	return hosts, rows.Err()
}

func (d Dialect) IdentifyConnection(ctx context.Context, db *sql.DB) (string, error) {
	var serverID string
	err := db.QueryRowContext(ctx, "SELECT aurora_db_instance_identifier()").Scan(&serverID)
	if err != nil {
		return "", fmt.Errorf("postgres: identify connection: %w", err)
	}
	return serverID, nil
}

func (d Dialect) Probe(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres: probe: %w", err)
	}
	return nil
}

func (d Dialect) IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08": // connection exception
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range []string{
		"connection terminated unexpectedly",
		"read econnreset",
		"connect econnrefused",
		"query read timeout",
		"broken pipe",
		"i/o timeout",
	} {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (d Dialect) IsAccessDeniedError(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "28000", "28P01":
			return true
		}
	}
	return strings.Contains(strings.ToLower(errString(err)), "password authentication failed")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (d Dialect) ApplySessionState(ctx context.Context, db *sql.DB, field dialect.SessionField, value any) error {
	var stmt string
	switch field {
	case dialect.FieldAutoCommit:
		// PostgreSQL has no server-side autocommit toggle; it is a
		// client-driver concept (begin/commit framing).
		return errs.NewUnsupportedMethod("setAutoCommit")
	case dialect.FieldReadOnly:
		stmt = d.ReadOnlyStatement(value.(bool))
	case dialect.FieldCatalog:
		// PostgreSQL does not support changing the catalog (database) on an
		// open connection.
		return errs.NewUnsupportedMethod("setCatalog")
	case dialect.FieldSchema:
		stmt = fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(value.(string)))
	case dialect.FieldIsolation:
		stmt = fmt.Sprintf("SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL %s", isolationSQL(value.(dialect.IsolationLevel)))
	default:
		return errs.NewUnsupportedMethod(string(field))
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: applying session state %s: %w", field, err)
	}
	return nil
}

func (d Dialect) ReadOnlyStatement(readOnly bool) string {
	if readOnly {
		return "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	}
	return "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE"
}

func isolationSQL(level dialect.IsolationLevel) string {
	switch level {
	case dialect.ReadUncommitted:
		return "READ UNCOMMITTED"
	case dialect.ReadCommitted:
		return "READ COMMITTED"
	case dialect.RepeatableRead:
		return "REPEATABLE READ"
	case dialect.Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}
