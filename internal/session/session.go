// Package session implements the session-state service, per spec.md §2 M5 /
// §4.9: transfer-on-switch and reset-on-close policies over the five
// recognized session fields, using the fixed iteration order resolved in
// dialect.OrderedSessionFields.
package session

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
)

type fieldState struct {
	current  any
	hasValue bool
	pristine any
	hasPrist bool
}

// Service tracks the five SessionState fields for one logical connection and
// applies clusterlink's transfer/reset policies, per spec.md §3 SessionState.
type Service struct {
	mu     sync.Mutex
	fields map[dialect.SessionField]*fieldState

	// TransferOnSwitch re-applies currentValue to a replacement target,
	// default on (spec.md §6 transferSessionStateOnSwitch).
	TransferOnSwitch bool
	// ResetOnClose restores pristineValue on End, default on (spec.md §6
	// resetSessionStateOnClose).
	ResetOnClose bool

	transferInProgress bool
}

// NewService constructs a Service with both policies enabled, spec.md §6's
// documented defaults.
func NewService() *Service {
	return &Service{
		fields:           make(map[dialect.SessionField]*fieldState),
		TransferOnSwitch: true,
		ResetOnClose:     true,
	}
}

// Set records a logical-API mutation of field to value, capturing the
// pristine value on first mutation per spec.md §4.9.
func (s *Service) Set(field dialect.SessionField, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := s.fieldOrNew(field)
	if !fs.hasPrist {
		if fs.hasValue {
			fs.pristine = fs.current
		} else {
			fs.pristine = value
		}
		fs.hasPrist = true
	}
	fs.current = value
	fs.hasValue = true
}

// CapturePristine records value as field's pristine baseline without
// marking it as a current mutation, used when a field is first observed
// from a freshly-opened target (e.g. the dialect's default autoCommit).
func (s *Service) CapturePristine(field dialect.SessionField, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := s.fieldOrNew(field)
	if !fs.hasPrist {
		fs.pristine = value
		fs.hasPrist = true
	}
}

func (s *Service) fieldOrNew(field dialect.SessionField) *fieldState {
	fs, ok := s.fields[field]
	if !ok {
		fs = &fieldState{}
		s.fields[field] = fs
	}
	return fs
}

// Current returns field's currentValue, if set.
func (s *Service) Current(field dialect.SessionField) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.fields[field]
	if !ok || !fs.hasValue {
		return nil, false
	}
	return fs.current, true
}

// TransferTo re-applies every field with a currentValue to newTarget, in
// dialect.OrderedSessionFields order, swallowing UnsupportedMethodError per
// spec.md §4.9. A "transfer in progress" flag prevents re-entrancy.
func (s *Service) TransferTo(ctx context.Context, d dialect.DriverDialect, newTarget *sql.DB) error {
	if !s.TransferOnSwitch {
		return nil
	}

	s.mu.Lock()
	if s.transferInProgress {
		s.mu.Unlock()
		return nil
	}
	s.transferInProgress = true
	snapshot := make(map[dialect.SessionField]any, len(s.fields))
	for f, fs := range s.fields {
		if fs.hasValue {
			snapshot[f] = fs.current
		}
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.transferInProgress = false
		s.mu.Unlock()
	}()

	for _, field := range dialect.OrderedSessionFields {
		value, ok := snapshot[field]
		if !ok {
			continue
		}
		if err := d.ApplySessionState(ctx, newTarget, field, value); err != nil {
			var unsupported *errs.UnsupportedMethodError
			if errors.As(err, &unsupported) {
				continue
			}
			return err
		}
	}
	return nil
}

// Reset restores every captured pristineValue on target, in
// dialect.OrderedSessionFields order, swallowing UnsupportedMethodError, per
// spec.md §4.9's reset-on-close policy.
func (s *Service) Reset(ctx context.Context, d dialect.DriverDialect, target *sql.DB) error {
	if !s.ResetOnClose {
		return nil
	}

	s.mu.Lock()
	snapshot := make(map[dialect.SessionField]any, len(s.fields))
	for f, fs := range s.fields {
		if fs.hasPrist {
			snapshot[f] = fs.pristine
		}
	}
	s.mu.Unlock()

	for _, field := range dialect.OrderedSessionFields {
		value, ok := snapshot[field]
		if !ok {
			continue
		}
		if err := d.ApplySessionState(ctx, target, field, value); err != nil {
			var unsupported *errs.UnsupportedMethodError
			if errors.As(err, &unsupported) {
				continue
			}
			return err
		}
	}
	return nil
}
