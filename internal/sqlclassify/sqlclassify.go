// Package sqlclassify implements the narrow statement classification
// spec.md §1's Non-goals permit: detecting SET READ ONLY toggles and
// transaction-boundary statements for the read/write splitting plugin
// (spec.md §4.5) and the failover plugin's in-transaction check. It does
// not attempt DDL/DML classification, table extraction, or anything else
// the teacher's internal/parser package does for its DDL-safety analysis.
package sqlclassify

import (
	"regexp"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"
)

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// ReadOnlyToggle is the outcome of inspecting a statement for a SET READ
// ONLY toggle, per spec.md §4.5's "SQL, parsed at design level, contains a
// SET READ ONLY toggle".
type ReadOnlyToggle int

const (
	// NoToggle means the statement is not a read-only/read-write toggle.
	NoToggle ReadOnlyToggle = iota
	// ToReadOnly is `SET [SESSION|GLOBAL] TRANSACTION READ ONLY` or a
	// `SET [SESSION|GLOBAL] transaction_read_only/read_only = 1|ON|TRUE`
	// assignment. autocommit assignments are not toggles.
	ToReadOnly
	// ToReadWrite is the symmetric read-write toggle.
	ToReadWrite
)

var toggleRe = regexp.MustCompile(`(?i)^\s*SET\s+(?:SESSION\s+|GLOBAL\s+)?(?:TRANSACTION\s+(READ\s+ONLY|READ\s+WRITE)|TRANSACTION_READ_ONLY\s*=\s*(1|0|ON|OFF|TRUE|FALSE)|READ_ONLY\s*=\s*(1|0|ON|OFF|TRUE|FALSE))\s*;?\s*$`)

// DetectReadOnlyToggle reports whether sql sets the session's (or an
// upcoming transaction's) read-only mode, per spec.md §4.5's "SQL, parsed
// at design level, contains a SET READ ONLY toggle". First confirms sql
// parses as a SET statement at all (ruling out false positives from
// comments or string literals containing the words), then classifies the
// direction from the matched keyword/value.
func DetectReadOnlyToggle(sql string) ReadOnlyToggle {
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";"))
	if trimmed == "" {
		return NoToggle
	}

	m := toggleRe.FindStringSubmatch(trimmed)
	if m == nil {
		return NoToggle
	}

	if p, err := getParser(); err == nil {
		if stmt, perr := p.Parse(trimmed); perr == nil {
			if _, ok := stmt.(*sqlparser.Set); !ok {
				return NoToggle
			}
		}
	}

	switch {
	case m[1] != "":
		if strings.EqualFold(strings.Join(strings.Fields(m[1]), " "), "READ ONLY") {
			return ToReadOnly
		}
		return ToReadWrite
	case m[2] != "":
		if onValue(m[2]) {
			return ToReadOnly
		}
		return ToReadWrite
	case m[3] != "":
		if onValue(m[3]) {
			return ToReadOnly
		}
		return ToReadWrite
	}
	return NoToggle
}

func onValue(v string) bool {
	switch strings.ToUpper(v) {
	case "1", "ON", "TRUE":
		return true
	}
	return false
}

// IsTransactionBoundary reports whether sql is a transaction-boundary
// statement (BEGIN/START TRANSACTION/COMMIT/ROLLBACK), per spec.md §4.5 and
// the failover plugin's "inTransaction" bookkeeping (§4.4).
func IsTransactionBoundary(sql string) bool {
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";"))
	if trimmed == "" {
		return false
	}

	p, err := getParser()
	if err == nil {
		if stmt, perr := p.Parse(trimmed); perr == nil {
			switch stmt.(type) {
			case *sqlparser.Begin, *sqlparser.Commit, *sqlparser.Rollback:
				return true
			}
			return false
		}
	}

	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "BEGIN"),
		strings.HasPrefix(upper, "START TRANSACTION"),
		strings.HasPrefix(upper, "COMMIT"),
		strings.HasPrefix(upper, "ROLLBACK"):
		return true
	}
	return false
}

// BoundaryKind further classifies a transaction-boundary statement by
// whether it opens or closes a transaction, for the wrapper's
// in-transaction bookkeeping (spec.md §4.4's inTransaction flag).
type BoundaryKind int

const (
	NotBoundary BoundaryKind = iota
	BoundaryBegin
	BoundaryEnd
)

// ClassifyBoundary is IsTransactionBoundary with begin/end discrimination.
func ClassifyBoundary(sql string) BoundaryKind {
	trimmed := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(sql), ";"))
	if trimmed == "" {
		return NotBoundary
	}

	if p, err := getParser(); err == nil {
		if stmt, perr := p.Parse(trimmed); perr == nil {
			switch stmt.(type) {
			case *sqlparser.Begin:
				return BoundaryBegin
			case *sqlparser.Commit, *sqlparser.Rollback:
				return BoundaryEnd
			}
			return NotBoundary
		}
	}

	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "BEGIN"), strings.HasPrefix(upper, "START TRANSACTION"):
		return BoundaryBegin
	case strings.HasPrefix(upper, "COMMIT"), strings.HasPrefix(upper, "ROLLBACK"):
		return BoundaryEnd
	}
	return NotBoundary
}
