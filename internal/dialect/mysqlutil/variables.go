// Package mysqlutil holds version parsing and SHOW VARIABLES/STATUS helpers
// shared by the Aurora and generic-replication MySQL dialects, adapted from
// the teacher's internal/mysql/variables.go (trimmed of its DDL-analysis
// specific helpers, which have no home in a cluster-coordination wrapper).
package mysqlutil

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ServerVersion is a parsed MySQL-compatible server version string.
type ServerVersion struct {
	Raw           string
	Major         int
	Minor         int
	Patch         int
	Flavor        string // "mysql", "percona", "percona-xtradb-cluster", "mariadb", "aurora-mysql"
	AuroraVersion string
}

func (v ServerVersion) String() string {
	if v.AuroraVersion != "" {
		return fmt.Sprintf("%d.%d (aurora-mysql %s)", v.Major, v.Minor, v.AuroraVersion)
	}
	return fmt.Sprintf("%d.%d.%d (%s)", v.Major, v.Minor, v.Patch, v.Flavor)
}

// IsAurora reports whether this is an Aurora MySQL instance.
func (v ServerVersion) IsAurora() bool { return v.Flavor == "aurora-mysql" }

// GetServerVersion queries and parses the server version string.
func GetServerVersion(db *sql.DB) (ServerVersion, error) {
	var raw string
	if err := db.QueryRow("SELECT VERSION()").Scan(&raw); err != nil {
		return ServerVersion{}, fmt.Errorf("querying version: %w", err)
	}
	return ParseVersion(raw)
}

var (
	auroraVersionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.mysql_aurora\.(\d+\.\d+\.\d+)`)
	versionRe       = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)`)
)

// ParseVersion parses a "SELECT VERSION()" result string.
func ParseVersion(raw string) (ServerVersion, error) {
	v := ServerVersion{Raw: raw}

	if m := auroraVersionRe.FindStringSubmatch(raw); len(m) >= 4 {
		v.Major, _ = strconv.Atoi(m[1])
		v.Minor, _ = strconv.Atoi(m[2])
		v.Flavor = "aurora-mysql"
		v.AuroraVersion = m[3]
		return v, nil
	}

	m := versionRe.FindStringSubmatch(raw)
	if len(m) < 4 {
		return v, fmt.Errorf("could not parse version: %s", raw)
	}
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	v.Patch, _ = strconv.Atoi(m[3])

	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "percona xtradb cluster"):
		v.Flavor = "percona-xtradb-cluster"
	case strings.Contains(lower, "percona"):
		v.Flavor = "percona"
	case strings.Contains(lower, "mariadb"):
		v.Flavor = "mariadb"
	default:
		v.Flavor = "mysql"
	}
	return v, nil
}

// GetVariable reads a single MySQL variable, trying GLOBAL first and
// falling back to session scope for variables (like wsrep_on) that are not
// always visible at GLOBAL scope. Returns "" if the variable doesn't exist.
func GetVariable(db *sql.DB, name string) (string, error) {
	escaped := escapeLike(name)

	var varName, value sql.NullString
	err := db.QueryRow(fmt.Sprintf("SHOW GLOBAL VARIABLES LIKE '%s'", escaped)).Scan(&varName, &value)
	if err == nil && value.Valid && value.String != "" {
		return value.String, nil
	}

	err = db.QueryRow(fmt.Sprintf("SHOW VARIABLES LIKE '%s'", escaped)).Scan(&varName, &value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("query failed: %w", err)
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}

// GetStatus reads a single MySQL global status variable.
func GetStatus(db *sql.DB, name string) (string, error) {
	escaped := escapeLike(name)
	var varName, value string
	err := db.QueryRow(fmt.Sprintf("SHOW GLOBAL STATUS LIKE '%s'", escaped)).Scan(&varName, &value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// GetVariableInt reads a MySQL variable and parses it as int64.
func GetVariableInt(db *sql.DB, name string) (int64, error) {
	val, err := GetVariable(db, name)
	if err != nil || val == "" {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func escapeLike(name string) string {
	name = strings.ReplaceAll(name, "_", "\\_")
	return strings.ReplaceAll(name, "%", "\\%")
}
