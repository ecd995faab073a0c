// Package mysqldialect adapts clusterlink's DriverDialect contract to
// Aurora MySQL / RDS MySQL, reusing the DSN-building and TLS registration
// approach of the teacher's internal/mysql package.
package mysqldialect

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// Dialect implements dialect.DriverDialect for Aurora/RDS MySQL.
type Dialect struct{}

var _ dialect.DriverDialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

// Open builds a DSN from the recognized connection properties and opens a
// *sql.DB. Unrecognized properties (spec.md §6) are forwarded as DSN params.
func (d Dialect) Open(_ context.Context, props map[string]string) (*sql.DB, error) {
	dsn, err := buildDSN(props)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	return db, nil
}

func buildDSN(props map[string]string) (string, error) {
	user := props["user"]
	password := props["password"]
	host := props["host"]
	port := props["port"]
	if port == "" {
		port = "3306"
	}
	database := props["database"]
	if database == "" {
		database = "information_schema"
	}

	if tlsCA := props["monitoring_tls_ca"]; tlsCA != "" {
		if err := registerCustomTLS("clusterlink-custom", tlsCA); err != nil {
			return "", fmt.Errorf("mysql: tls setup: %w", err)
		}
	}

	var sb strings.Builder
	sb.WriteString(user)
	sb.WriteByte(':')
	sb.WriteString(password)
	sb.WriteString("@tcp(")
	sb.WriteString(host)
	sb.WriteByte(':')
	sb.WriteString(port)
	sb.WriteString(")/")
	sb.WriteString(database)
	sb.WriteString("?parseTime=true&interpolateParams=true")

	for k, v := range props {
		switch k {
		case "user", "password", "host", "port", "database", "monitoring_tls_ca":
			continue
		}
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
	}

	if tlsMode := props["tls"]; tlsMode != "" {
		sb.WriteString("&tls=")
		sb.WriteString(tlsMode)
	}

	return sb.String(), nil
}

func registerCustomTLS(name, caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate %q: %w", caPath, err)
	}
	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no valid certificates found in %q", caPath)
	}
	return mysqldriver.RegisterTLSConfig(name, &tls.Config{RootCAs: rootCAs})
}

// PreparePoolProperties returns an unfiltered copy of props, used both to
// key and configure an internal pool client.
func (d Dialect) PreparePoolProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// QueryTopology queries Aurora's replica-status view. The writer is the row
// whose SESSION_ID reports the reserved MASTER_SESSION_ID sentinel.
func (d Dialect) QueryTopology(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT SERVER_ID, SESSION_ID, IFNULL(REPLICA_LAG_IN_MILLISECONDS, 0)
		FROM information_schema.replica_host_status
	`)
	if err != nil {
		return nil, fmt.Errorf("mysql: topology query: %w", err)
	}
	defer rows.Close()

	var hosts []hostinfo.HostInfo
	for rows.Next() {
		var serverID, sessionID string
		var lagMillis float64
		if err := rows.Scan(&serverID, &sessionID, &lagMillis); err != nil {
			return nil, fmt.Errorf("mysql: scanning topology row: %w", err)
		}
		role := hostinfo.RoleReader
		weight := 1
		if sessionID == "MASTER_SESSION_ID" {
			role = hostinfo.RoleWriter
		} else if lagMillis == 0 {
			weight = 2 // caught up with the writer: prefer it under highest-weight
		}
		hosts = append(hosts, hostinfo.HostInfo{
			Host:         serverID,
			HostID:       serverID,
			Role:         role,
			Availability: hostinfo.Available,
			Weight:       weight,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hosts, nil
}

// IdentifyConnection asks the server for its instance identifier.
func (d Dialect) IdentifyConnection(ctx context.Context, db *sql.DB) (string, error) {
	var serverID string
	err := db.QueryRowContext(ctx, "SELECT @@aurora_server_id").Scan(&serverID)
	if err != nil {
		// Non-Aurora MySQL: fall back to @@server_id.
		var id int64
		if err2 := db.QueryRowContext(ctx, "SELECT @@server_id").Scan(&id); err2 != nil {
			return "", fmt.Errorf("mysql: identify connection: %w", err)
		}
		return strconv.FormatInt(id, 10), nil
	}
	return serverID, nil
}

func (d Dialect) Probe(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("mysql: probe: %w", err)
	}
	return nil
}

// networkErrorMessages and the MySQL error numbers in IsNetworkError mirror
// spec.md §7's per-dialect lists.
var networkErrorMessages = []string{
	"connection refused",
	"broken pipe",
	"connection reset by peer",
	"invalid connection",
	"driver: bad connection",
	"i/o timeout",
	"no route to host",
}

func (d Dialect) IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*mysqldriver.MySQLError); ok {
		switch me.Number {
		case 2002, 2003, 2006, 2013: // can't connect, server gone away, lost connection
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range networkErrorMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (d Dialect) IsAccessDeniedError(err error) bool {
	if me, ok := err.(*mysqldriver.MySQLError); ok {
		return me.Number == 1045 // ER_ACCESS_DENIED_ERROR
	}
	return strings.Contains(strings.ToLower(errString(err)), "access denied")
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
		if value.(bool) {
			stmt = "SET autocommit = 1"
		} else {
			stmt = "SET autocommit = 0"
		}
	case dialect.FieldReadOnly:
		stmt = d.ReadOnlyStatement(value.(bool))
	case dialect.FieldCatalog:
		stmt = fmt.Sprintf("USE `%s`", value.(string))
	case dialect.FieldSchema:
		// MySQL has no separate schema concept from catalog/database.
		return errs.NewUnsupportedMethod("setSchema")
	case dialect.FieldIsolation:
		stmt = fmt.Sprintf("SET SESSION TRANSACTION ISOLATION LEVEL %s", isolationSQL(value.(dialect.IsolationLevel)))
	default:
		return errs.NewUnsupportedMethod(string(field))
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mysql: applying session state %s: %w", field, err)
	}
	return nil
}

func (d Dialect) ReadOnlyStatement(readOnly bool) string {
	if readOnly {
		return "SET SESSION TRANSACTION READ ONLY"
	}
	return "SET SESSION TRANSACTION READ WRITE"
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
		return "REPEATABLE READ"
	}
}
