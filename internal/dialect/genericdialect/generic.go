// Package genericdialect implements dialect.DriverDialect for self-managed
// MySQL-compatible clusters that are not Aurora: async/semisync replication,
// Galera/PXC, and Group Replication. It is adapted from the teacher's
// internal/topology/detector.go, which classified exactly these same four
// topologies for its DDL-safety analysis; here the same detection queries
// are repurposed to produce a hostinfo.Topology instead of a report string.
package genericdialect

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/dialect/mysqlutil"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/hostinfo"
)

// Dialect implements dialect.DriverDialect for non-Aurora, self-managed
// MySQL-compatible clusters. It does not import mysqldialect: it carries its
// own DSN building, error classification and session-state statements, and
// differs from mysqldialect mainly in topology discovery.
type Dialect struct {
}

var _ dialect.DriverDialect = Dialect{}

func (Dialect) Name() string { return "mysql-generic" }

func (d Dialect) Open(ctx context.Context, props map[string]string) (*sql.DB, error) {
	dsn, err := buildDSN(props)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql-generic: open: %w", err)
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
		case "user", "password", "host", "port", "database":
			continue
		}
		sb.WriteByte('&')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
	}
	return sb.String(), nil
}

func (d Dialect) PreparePoolProperties(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// QueryTopology classifies the cluster the same way the teacher's
// topology.Detect did — Galera first (most specific), then Group
// Replication, then plain async/semisync replication — but returns a
// hostinfo.Topology instead of annotating a single Info struct, since a
// cluster-aware wrapper needs the full member list, not just this node's
// role.
func (d Dialect) QueryTopology(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, error) {
	if hosts, ok, err := queryGalera(ctx, db); err != nil {
		return nil, err
	} else if ok {
		return hosts, nil
	}

	if hosts, ok, err := queryGroupReplication(ctx, db); err != nil {
		return nil, err
	} else if ok {
		return hosts, nil
	}

	return queryReplicationOrStandalone(ctx, db)
}

// queryGalera reports the cluster as every node it can see in
// wsrep_incoming_addresses, all as readers except this connection's own
// node, which is marked writer only when it isn't in a non-Primary (desync)
// state; Galera is multi-writer-capable but clusterlink treats a Galera
// cluster as single-writer for failover purposes, consistent with the
// roundRobinReader split the teacher's detector never needed to make.
func queryGalera(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, bool, error) {
	wsrepOn, err := mysqlutil.GetVariable(db, "wsrep_on")
	if err != nil {
		return nil, false, fmt.Errorf("mysql-generic: wsrep_on: %w", err)
	}
	if wsrepOn != "ON" {
		return nil, false, nil
	}

	clusterSize, err := mysqlutil.GetStatus(db, "wsrep_cluster_size")
	if err != nil || clusterSize == "" {
		clusterSize, err = mysqlutil.GetVariable(db, "wsrep_cluster_size")
		if err != nil {
			return nil, false, fmt.Errorf("mysql-generic: wsrep_cluster_size: %w", err)
		}
	}
	size, _ := strconv.Atoi(clusterSize)
	if size == 0 {
		return nil, false, nil
	}

	addrs, _ := mysqlutil.GetVariable(db, "wsrep_incoming_addresses")
	nodeState, _ := mysqlutil.GetStatus(db, "wsrep_local_state_comment")
	selfID, err := Dialect{}.IdentifyConnection(ctx, db)
	if err != nil {
		selfID = ""
	}

	hosts := splitMembers(addrs)
	if len(hosts) == 0 {
		// Only this node is visible; report it alone rather than failing
		// the whole cluster out of Galera classification.
		return []hostinfo.HostInfo{{
			Host: selfID, HostID: selfID,
			Role: writerRoleIf(nodeState == "Synced"), Availability: hostinfo.Available,
		}}, true, nil
	}

	// splitMembers strips ports, so compare against selfID's host part.
	selfHost := selfID
	if idx := strings.LastIndex(selfID, ":"); idx > 0 {
		selfHost = selfID[:idx]
	}
	out := make([]hostinfo.HostInfo, 0, len(hosts))
	for _, h := range hosts {
		role := hostinfo.RoleReader
		if h == selfHost && nodeState == "Synced" {
			role = hostinfo.RoleWriter
		}
		out = append(out, hostinfo.HostInfo{Host: h, HostID: h, Role: role, Availability: hostinfo.Available})
	}
	// Galera is genuinely multi-primary; if no node matched selfID exactly
	// (address formats vary), fall back to marking the first node writer so
	// the reported topology always has exactly one writer.
	if !hasWriter(out) && len(out) > 0 {
		out[0].Role = hostinfo.RoleWriter
	}
	return out, true, nil
}

func writerRoleIf(cond bool) hostinfo.Role {
	if cond {
		return hostinfo.RoleWriter
	}
	return hostinfo.RoleReader
}

func hasWriter(hosts []hostinfo.HostInfo) bool {
	for _, h := range hosts {
		if h.Role == hostinfo.RoleWriter {
			return true
		}
	}
	return false
}

func splitMembers(addrs string) []string {
	addrs = strings.TrimSpace(addrs)
	if addrs == "" {
		return nil
	}
	parts := strings.Split(addrs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// wsrep_incoming_addresses entries are host:port.
		if idx := strings.LastIndex(p, ":"); idx > 0 {
			p = p[:idx]
		}
		out = append(out, p)
	}
	return out
}

// queryGroupReplication lists every ONLINE member from
// performance_schema.replication_group_members, marking the PRIMARY role
// member as the writer (single-primary mode) or, in multi-primary mode,
// marking every member a writer since MySQL itself allows writes on all of
// them.
func queryGroupReplication(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, bool, error) {
	grName, err := mysqlutil.GetVariable(db, "group_replication_group_name")
	if err != nil || grName == "" {
		return nil, false, nil
	}

	singlePrimary, _ := mysqlutil.GetVariable(db, "group_replication_single_primary_mode")
	multiPrimary := singlePrimary != "ON"

	rows, err := db.QueryContext(ctx, `
		SELECT MEMBER_HOST, MEMBER_PORT, MEMBER_STATE, MEMBER_ROLE
		FROM performance_schema.replication_group_members
	`)
	if err != nil {
		return nil, false, fmt.Errorf("mysql-generic: group replication members: %w", err)
	}
	defer rows.Close()

	var hosts []hostinfo.HostInfo
	for rows.Next() {
		var host, state, role string
		var port int
		if err := rows.Scan(&host, &port, &state, &role); err != nil {
			return nil, false, fmt.Errorf("mysql-generic: scanning GR member: %w", err)
		}
		if state != "ONLINE" {
			continue
		}
		hostID := fmt.Sprintf("%s:%d", host, port)
		hRole := hostinfo.RoleReader
		if multiPrimary || role == "PRIMARY" {
			hRole = hostinfo.RoleWriter
		}
		hosts = append(hosts, hostinfo.HostInfo{
			Host: hostID, HostID: hostID, Role: hRole, Availability: hostinfo.Available,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(hosts) == 0 {
		return nil, false, nil
	}
	if !multiPrimary && !hasWriter(hosts) {
		hosts[0].Role = hostinfo.RoleWriter
	}
	return hosts, true, nil
}

// queryReplicationOrStandalone falls back to SHOW REPLICA/SLAVE STATUS to
// decide whether this connection is a replica, and otherwise reports a
// single-node standalone topology; self-managed async replication exposes
// no catalog of peer hosts from any one connection, so clusterlink can only
// describe the node it's connected to in this mode (callers relying on
// multi-host failover should prefer the mysqldialect/Aurora or genuine
// Galera/GR dialects instead).
func queryReplicationOrStandalone(ctx context.Context, db *sql.DB) ([]hostinfo.HostInfo, error) {
	selfID, err := (Dialect{}).IdentifyConnection(ctx, db)
	if err != nil {
		return nil, err
	}

	isReplica := false
	rows, err := db.QueryContext(ctx, "SHOW REPLICA STATUS")
	if err != nil {
		rows, err = db.QueryContext(ctx, "SHOW SLAVE STATUS")
	}
	if err == nil {
		defer rows.Close()
		isReplica = rows.Next()
	}

	role := hostinfo.RoleWriter
	if isReplica {
		ro, _ := mysqlutil.GetVariable(db, "read_only")
		if ro == "ON" {
			role = hostinfo.RoleReader
		}
	}

	return []hostinfo.HostInfo{{
		Host: selfID, HostID: selfID, Role: role, Availability: hostinfo.Available, Weight: 1,
	}}, nil
}

func (d Dialect) IdentifyConnection(ctx context.Context, db *sql.DB) (string, error) {
	var host string
	var port int
	err := db.QueryRowContext(ctx, "SELECT @@hostname, @@port").Scan(&host, &port)
	if err != nil {
		return "", fmt.Errorf("mysql-generic: identify connection: %w", err)
	}
	return fmt.Sprintf("%s:%d", host, port), nil
}

func (d Dialect) Probe(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("mysql-generic: probe: %w", err)
	}
	return nil
}

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
	msg := strings.ToLower(err.Error())
	for _, m := range networkErrorMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func (d Dialect) IsAccessDeniedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "access denied")
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
		return errs.NewUnsupportedMethod("setSchema")
	case dialect.FieldIsolation:
		stmt = "SET SESSION TRANSACTION ISOLATION LEVEL " + isolationSQL(value.(dialect.IsolationLevel))
	default:
		return errs.NewUnsupportedMethod(string(field))
	}
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mysql-generic: applying session state %s: %w", field, err)
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
