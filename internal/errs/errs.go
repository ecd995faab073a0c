// Package errs defines the typed error kinds surfaced to applications using
// clusterlink, mirroring the external error contract.
package errs

import "fmt"

// AwsWrapperError is the base type every clusterlink error wraps.
type AwsWrapperError struct {
	Op  string
	Err error
}

func (e *AwsWrapperError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *AwsWrapperError) Unwrap() error { return e.Err }

// FailoverError is the base for the three failover outcomes.
type FailoverError struct {
	*AwsWrapperError
}

// FailoverSuccessError signals that failover completed and the application's
// in-flight call must be retried against the new target.
type FailoverSuccessError struct {
	*FailoverError
	NewHostID string
}

func NewFailoverSuccess(newHostID string) *FailoverSuccessError {
	return &FailoverSuccessError{
		FailoverError: &FailoverError{&AwsWrapperError{Op: "failover"}},
		NewHostID:     newHostID,
	}
}

// FailoverFailedError signals that no target could be reached within the
// failover budget.
type FailoverFailedError struct {
	*FailoverError
}

func NewFailoverFailed(cause error) *FailoverFailedError {
	return &FailoverFailedError{&FailoverError{&AwsWrapperError{Op: "failover failed", Err: cause}}}
}

// TransactionResolutionUnknownError signals that a transaction may or may not
// have committed before the writer was lost; the application must decide.
type TransactionResolutionUnknownError struct {
	*FailoverError
}

func NewTransactionResolutionUnknown(cause error) *TransactionResolutionUnknownError {
	return &TransactionResolutionUnknownError{&FailoverError{&AwsWrapperError{Op: "transaction resolution unknown", Err: cause}}}
}

// LoginError signals an access-denied style authentication failure.
type LoginError struct{ *AwsWrapperError }

func NewLoginError(cause error) *LoginError {
	return &LoginError{&AwsWrapperError{Op: "login failed", Err: cause}}
}

// InternalQueryTimeoutError signals a per-operation budget was exceeded.
type InternalQueryTimeoutError struct{ *AwsWrapperError }

func NewInternalQueryTimeout(op string, cause error) *InternalQueryTimeoutError {
	return &InternalQueryTimeoutError{&AwsWrapperError{Op: op + " timed out", Err: cause}}
}

// UnsupportedMethodError signals a dialect does not implement an operation
// (e.g. catalog on PostgreSQL).
type UnsupportedMethodError struct{ *AwsWrapperError }

func NewUnsupportedMethod(method string) *UnsupportedMethodError {
	return &UnsupportedMethodError{&AwsWrapperError{Op: fmt.Sprintf("method %q unsupported", method)}}
}

// UnsupportedStrategyError signals an invalid host-selector configuration.
type UnsupportedStrategyError struct{ *AwsWrapperError }

func NewUnsupportedStrategy(name string) *UnsupportedStrategyError {
	return &UnsupportedStrategyError{&AwsWrapperError{Op: fmt.Sprintf("unsupported selector strategy %q", name)}}
}

// IllegalArgumentError signals a malformed configuration value.
type IllegalArgumentError struct{ *AwsWrapperError }

func NewIllegalArgument(msg string) *IllegalArgumentError {
	return &IllegalArgumentError{&AwsWrapperError{Op: msg}}
}

// UnavailableHostError signals a candidate host is outside the effective
// allowed set or marked NOT_AVAILABLE.
type UnavailableHostError struct {
	*AwsWrapperError
	HostID string
}

func NewUnavailableHost(hostID string) *UnavailableHostError {
	return &UnavailableHostError{
		AwsWrapperError: &AwsWrapperError{Op: fmt.Sprintf("host %q unavailable", hostID)},
		HostID:          hostID,
	}
}

// NoHostsMatchingRoleError signals a selector's eligible set was empty.
type NoHostsMatchingRoleError struct{ *AwsWrapperError }

func NewNoHostsMatchingRole(role string) *NoHostsMatchingRoleError {
	return &NoHostsMatchingRoleError{&AwsWrapperError{Op: fmt.Sprintf("no hosts matching role %q", role)}}
}

// NetworkError signals a dialect-classified transport-level failure, the
// trigger condition for failover.
type NetworkError struct{ *AwsWrapperError }

func NewNetworkError(cause error) *NetworkError {
	return &NetworkError{&AwsWrapperError{Op: "network error", Err: cause}}
}
