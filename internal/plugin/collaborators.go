package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nethalo/clusterlink/internal/controlplane"
	"github.com/nethalo/clusterlink/internal/dialect"
	"github.com/nethalo/clusterlink/internal/errs"
	"github.com/nethalo/clusterlink/internal/healthmonitor"
	"github.com/nethalo/clusterlink/internal/telemetry"
)

// The plugins below are spec.md §2 T4's "small collaborators": each
// implements the Plugin contract but carries little logic of its own —
// the pipeline dispatch they subscribe to, not their internals, is the
// part spec.md treats as core.

// ConnectTime records how long the wrapped connect call took, as a
// telemetry.Gauge sample, per spec.md §2 T4.
type ConnectTime struct {
	Gauge telemetry.Gauge
}

func (ConnectTime) Name() string { return "connectTime" }

func (ConnectTime) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p ConnectTime) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	start := time.Now()
	res, err := next(ctx, call)
	if p.Gauge != nil {
		p.Gauge.Set(ctx, float64(time.Since(start).Milliseconds()))
	}
	return res, err
}

// ExecuteTime records how long each wrapped query execution took, per
// spec.md §2 T4.
type ExecuteTime struct {
	Gauge telemetry.Gauge
}

func (ExecuteTime) Name() string { return "executeTime" }

func (ExecuteTime) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodExecute: {}}
}

func (p ExecuteTime) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	start := time.Now()
	res, err := next(ctx, call)
	if p.Gauge != nil {
		p.Gauge.Set(ctx, float64(time.Since(start).Milliseconds()))
	}
	return res, err
}

// AuroraConnectionTracker counts successful connects per host, per spec.md
// §2 T4. It subscribes to connect/forceConnect and the connection-changed
// notification, and increments a counter tagged with the host after each
// successful connect/forceConnect; nothing decrements it, so it does not
// track how many of those connections are still open.
type AuroraConnectionTracker struct {
	Counter telemetry.Counter
}

func (AuroraConnectionTracker) Name() string { return "auroraConnectionTracker" }

func (AuroraConnectionTracker) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}, MethodNotifyConnectionChanged: {}}
}

func (p AuroraConnectionTracker) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	res, err := next(ctx, call)
	if err == nil && p.Counter != nil && (call.Method == MethodConnect || call.Method == MethodForceConnect) {
		p.Counter.Inc(ctx, 1, telemetry.Attr{Key: "host", Value: hostArg(call)})
	}
	return res, err
}

func hostArg(call *Call) string {
	if h, ok := call.Args["host"].(string); ok {
		return h
	}
	return ""
}

// HostMonitoring registers a healthmonitor.Context with the active host's
// EFM monitor around each execute, per spec.md §4.3: "registered by the
// host-monitoring plugin at execute() entry", so the monitor can abort the
// in-flight call once it judges the host unhealthy. Detection carries the
// failureDetectionTime/Interval/Count tuple; Host is resolved per call from
// call.Args["host"] since the active host can change across a logical
// connection's lifetime (read/write split, failover).
type HostMonitoring struct {
	Service   *healthmonitor.Service
	Dialect   dialect.DriverDialect
	Detection healthmonitor.Params // Host is overwritten per call
	Open      func(ctx context.Context, host string) (*sql.DB, error)
}

func (HostMonitoring) Name() string { return "hostMonitoring" }

func (HostMonitoring) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodExecute: {}}
}

func (p HostMonitoring) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	host := hostArg(call)
	if p.Service == nil || host == "" {
		return next(ctx, call)
	}
	params := p.Detection
	params.Host = host
	mon, err := p.Service.StartOrGet(params, p.Dialect, func(ctx context.Context) (*sql.DB, error) {
		return p.Open(ctx, host)
	})
	if err != nil || mon == nil {
		return next(ctx, call)
	}

	target, _ := call.Args["target"].(*sql.DB)
	hc := &healthmonitor.Context{ClientToAbort: target}
	mon.Register(hc)
	defer mon.Unregister(hc)

	res, err := next(ctx, call)
	if hc.ShouldAbort() {
		return nil, errs.NewNetworkError(fmt.Errorf("host %s judged unhealthy by enhanced failure monitoring", host))
	}
	return res, err
}

// Resolver is the DNS lookup StaleDNSChecker needs; satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// StaleDNSChecker re-resolves the writer endpoint's DNS name on each
// connect and compares it against the last-seen address, per spec.md §2
// T4: a cached client-side resolver can point at a demoted writer for
// longer than the cluster's own failover took, so a changed A record is
// itself a signal to refresh topology before trusting the connection.
type StaleDNSChecker struct {
	Resolver   Resolver
	WriterHost string
	OnStaleDNS func(ctx context.Context)
	lastAddrs  []string
}

func (*StaleDNSChecker) Name() string { return "staleDns" }

func (*StaleDNSChecker) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p *StaleDNSChecker) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	if p.Resolver != nil && p.WriterHost != "" {
		addrs, err := p.Resolver.LookupHost(ctx, p.WriterHost)
		if err == nil {
			if p.lastAddrs != nil && !sameAddrs(p.lastAddrs, addrs) && p.OnStaleDNS != nil {
				p.OnStaleDNS(ctx)
			}
			p.lastAddrs = addrs
		}
	}
	return next(ctx, call)
}

func sameAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, x := range a {
		seen[x] = struct{}{}
	}
	for _, x := range b {
		if _, ok := seen[x]; !ok {
			return false
		}
	}
	return true
}

// NewStaleDNSChecker wires a StaleDNSChecker against the system resolver.
func NewStaleDNSChecker(writerHost string, onStaleDNS func(ctx context.Context)) *StaleDNSChecker {
	return &StaleDNSChecker{Resolver: net.DefaultResolver, WriterHost: writerHost, OnStaleDNS: onStaleDNS}
}

// LimitlessRouter subscribes to connect/forceConnect so an Aurora
// Limitless Database target can be routed to a transaction router chosen
// by Fetch, instead of the endpoint's own DNS-balanced address, per
// spec.md §2 M5/T4. Fetch is the narrow router-discovery hook; a
// production caller backs it with the limitless router monitor's cached
// result (spec.md §5's "limitless router monitor per ClusterId").
type LimitlessRouter struct {
	Fetch func(ctx context.Context) (host string, ok bool)
}

func (LimitlessRouter) Name() string { return "limitless" }

func (LimitlessRouter) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p LimitlessRouter) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	if p.Fetch != nil {
		if host, ok := p.Fetch(ctx); ok {
			call.Args["host"] = host
		}
	}
	return next(ctx, call)
}

// IAMAuth replaces the connect call's password with a freshly computed
// IAM auth token, per spec.md §1's "IAM token computation — a pure
// function of (host, port, user, region, time); consumed by reference."
// TokenFn is that pure function, supplied by the caller so this plugin
// stays free of any AWS SDK signing dependency.
type IAMAuth struct {
	TokenFn func(host string, port int, user, region string, now time.Time) (string, error)
	Region  string
	Now     func() time.Time
}

func (IAMAuth) Name() string { return "iam" }

func (IAMAuth) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p IAMAuth) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	if p.TokenFn != nil {
		host, _ := call.Args["host"].(string)
		port, _ := call.Args["port"].(int)
		user, _ := call.Args["user"].(string)
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		token, err := p.TokenFn(host, port, user, p.Region, now())
		if err != nil {
			return nil, err
		}
		call.Args["password"] = token
	}
	return next(ctx, call)
}

// SecretsManagerAuth resolves the connect call's password from an AWS
// Secrets Manager secret, per spec.md §6's `SecretsManager.GetSecretValue
// (SecretId)` control-plane interface, caching the resolved value for
// CacheTTL so every reconnect doesn't re-fetch it.
type SecretsManagerAuth struct {
	Client   controlplane.SecretsManagerClient
	SecretID string
	CacheTTL time.Duration

	cachedAt time.Time
	cached   string
}

func (*SecretsManagerAuth) Name() string { return "secretsManager" }

func (*SecretsManagerAuth) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p *SecretsManagerAuth) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	if p.Client != nil && p.SecretID != "" {
		if p.cached == "" || time.Since(p.cachedAt) > p.cacheTTL() {
			secret, err := p.fetch(ctx)
			if err != nil {
				return nil, err
			}
			p.cached = secret
			p.cachedAt = time.Now()
		}
		call.Args["password"] = p.cached
	}
	return next(ctx, call)
}

func (p *SecretsManagerAuth) fetch(ctx context.Context) (string, error) {
	out, err := p.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &p.SecretID})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", nil
	}
	return *out.SecretString, nil
}

func (p *SecretsManagerAuth) cacheTTL() time.Duration {
	if p.CacheTTL > 0 {
		return p.CacheTTL
	}
	return 5 * time.Minute
}

// FederatedAuth exchanges a SAML assertion for temporary database
// credentials via STS AssumeRoleWithSAML, per spec.md §6's
// `STS.AssumeRoleWithSAML(SAMLAssertion, RoleArn, PrincipalArn)`
// control-plane interface. AssertionFn supplies the SAML assertion (an
// IdP interaction this package has no business owning); Exchange turns
// the assumed role's credentials into a connect-ready password, left to
// the caller since it's a database-specific token derivation (e.g. an
// RDS IAM auth token signed with the assumed role).
type FederatedAuth struct {
	Client       controlplane.STSClient
	AssertionFn  func(ctx context.Context) (string, error)
	RoleArn      string
	PrincipalArn string
	Exchange     func(ctx context.Context, accessKeyID, secretAccessKey, sessionToken string) (string, error)
}

func (FederatedAuth) Name() string { return "federatedAuth" }

func (FederatedAuth) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{MethodConnect: {}, MethodForceConnect: {}}
}

func (p FederatedAuth) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	if p.Client != nil && p.AssertionFn != nil {
		assertion, err := p.AssertionFn(ctx)
		if err != nil {
			return nil, err
		}
		out, err := p.Client.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
			SAMLAssertion: &assertion,
			RoleArn:       &p.RoleArn,
			PrincipalArn:  &p.PrincipalArn,
		})
		if err != nil {
			return nil, err
		}
		if out.Credentials != nil && p.Exchange != nil {
			token, err := p.Exchange(ctx, derefSTS(out.Credentials.AccessKeyId), derefSTS(out.Credentials.SecretAccessKey), derefSTS(out.Credentials.SessionToken))
			if err != nil {
				return nil, err
			}
			call.Args["password"] = token
		}
	}
	return next(ctx, call)
}

func derefSTS(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
