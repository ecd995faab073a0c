// Package plugin implements the plugin pipeline and manager, per spec.md
// §2 T1 / §4.10: an ordered, priority-sorted interceptor chain over connect,
// execute, and the host/connection-change notifications, terminated by a
// DefaultPlugin that performs the actual driver call.
package plugin

import (
	"context"
	"sort"
	"strings"

	"github.com/nethalo/clusterlink/internal/errs"
)

// Method names the pipeline dispatches, per spec.md §4.10.
const (
	MethodConnect                 = "connect"
	MethodForceConnect            = "forceConnect"
	MethodExecute                 = "execute"
	MethodInitHostProvider        = "initHostProvider"
	MethodNotifyHostListChanged   = "notifyHostListChanged"
	MethodNotifyConnectionChanged = "notifyConnectionChanged"

	// Wildcard subscribes a plugin to every method.
	Wildcard = "*"
)

// Next invokes the remainder of the chain for the current method call.
type Next func(ctx context.Context, call *Call) (any, error)

// Call carries the in-flight operation's arguments and result through the
// pipeline; plugins mutate Result/Err via their return value, and read Args
// for method-specific parameters (SQL text, connection properties, etc).
type Call struct {
	Method string
	Args   map[string]any
}

// Plugin is one pipeline stage. A plugin participates in method only if
// method is in SubscribedMethods() or that set contains Wildcard.
type Plugin interface {
	// Name identifies the plugin for chain construction and logging.
	Name() string
	// SubscribedMethods is read once per plugin at chain build, per
	// spec.md §4.10.
	SubscribedMethods() map[string]struct{}
	// Execute runs this plugin's pre/post logic around next, which invokes
	// the remainder of the chain (skipping non-subscribed plugins).
	Execute(ctx context.Context, call *Call, next Next) (any, error)
}

// Priority plugins may implement to participate in autoSortWrapperPluginOrder;
// lower values run earlier. Plugins that don't implement it sort last,
// stable among themselves.
type Priority interface {
	Priority() int
}

// priorityOf returns p's declared priority, or a neutral default.
func priorityOf(p Plugin) int {
	if pr, ok := p.(Priority); ok {
		return pr.Priority()
	}
	return 1000
}

// Subscribes reports whether p participates in method.
func Subscribes(p Plugin, method string) bool {
	subs := p.SubscribedMethods()
	if _, ok := subs[Wildcard]; ok {
		return true
	}
	_, ok := subs[method]
	return ok
}

// Chain is the ordered, built plugin list for one logical connection.
type Chain struct {
	plugins []Plugin // terminal DefaultPlugin always last
}

// Build constructs a Chain from plugins, appending terminal unconditionally
// and sorting the rest by priority when autoSort is true, per spec.md
// §4.10. Caller is responsible for resolving plugin codes into Plugin
// instances (spec.md treats that resolution, along with connection-property
// parsing, as out-of-scope ambient configuration).
func Build(plugins []Plugin, terminal Plugin, autoSort bool) *Chain {
	ordered := make([]Plugin, len(plugins))
	copy(ordered, plugins)
	if autoSort {
		sort.SliceStable(ordered, func(i, j int) bool {
			return priorityOf(ordered[i]) < priorityOf(ordered[j])
		})
	}
	ordered = append(ordered, terminal)
	return &Chain{plugins: ordered}
}

// Run dispatches call through the chain starting at the head, skipping any
// plugin not subscribed to call.Method.
func (c *Chain) Run(ctx context.Context, call *Call) (any, error) {
	return c.runFrom(ctx, 0, call)
}

func (c *Chain) runFrom(ctx context.Context, idx int, call *Call) (any, error) {
	for idx < len(c.plugins) && !Subscribes(c.plugins[idx], call.Method) {
		idx++
	}
	if idx >= len(c.plugins) {
		return nil, errs.NewUnsupportedMethod(call.Method)
	}
	p := c.plugins[idx]
	next := func(ctx context.Context, call *Call) (any, error) {
		return c.runFrom(ctx, idx+1, call)
	}
	return p.Execute(ctx, call, next)
}

// ParsePluginCodes splits a comma-separated plugins configuration value,
// per spec.md §6 `plugins` (default "auroraConnectionTracker,failover,efm2").
func ParsePluginCodes(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultPlugin is the terminal stage appended unconditionally; its
// Execute is supplied by the caller (it performs the actual driver call)
// since that call's shape depends on the logical connection's target.
type DefaultPlugin struct {
	Do func(ctx context.Context, call *Call) (any, error)
}

func (DefaultPlugin) Name() string { return "default" }

func (DefaultPlugin) SubscribedMethods() map[string]struct{} {
	return map[string]struct{}{Wildcard: {}}
}

func (d DefaultPlugin) Execute(ctx context.Context, call *Call, _ Next) (any, error) {
	return d.Do(ctx, call)
}
