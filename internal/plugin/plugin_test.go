package plugin

import (
	"context"
	"testing"
)

type recordingPlugin struct {
	name     string
	priority int
	methods  map[string]struct{}
	trace    *[]string
}

func (p recordingPlugin) Name() string                            { return p.name }
func (p recordingPlugin) SubscribedMethods() map[string]struct{}   { return p.methods }
func (p recordingPlugin) Priority() int                            { return p.priority }
func (p recordingPlugin) Execute(ctx context.Context, call *Call, next Next) (any, error) {
	*p.trace = append(*p.trace, "pre:"+p.name)
	res, err := next(ctx, call)
	*p.trace = append(*p.trace, "post:"+p.name)
	return res, err
}

func TestChain_SortsByPriorityAndSkipsUnsubscribed(t *testing.T) {
	var trace []string
	low := recordingPlugin{name: "low-priority-first", priority: 10, methods: map[string]struct{}{MethodExecute: {}}, trace: &trace}
	high := recordingPlugin{name: "high-priority-second", priority: 20, methods: map[string]struct{}{MethodExecute: {}}, trace: &trace}
	unrelated := recordingPlugin{name: "connect-only", priority: 5, methods: map[string]struct{}{MethodConnect: {}}, trace: &trace}

	terminal := DefaultPlugin{Do: func(context.Context, *Call) (any, error) {
		trace = append(trace, "terminal")
		return "ok", nil
	}}

	chain := Build([]Plugin{high, unrelated, low}, terminal, true)
	res, err := chain.Run(context.Background(), &Call{Method: MethodExecute})
	if err != nil {
		t.Fatal(err)
	}
	if res != "ok" {
		t.Fatalf("got %v", res)
	}

	want := []string{"pre:low-priority-first", "pre:high-priority-second", "terminal", "post:high-priority-second", "post:low-priority-first"}
	if len(trace) != len(want) {
		t.Fatalf("trace %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace %v, want %v", trace, want)
		}
	}
}

func TestParsePluginCodes(t *testing.T) {
	got := ParsePluginCodes(" auroraConnectionTracker, failover ,efm2")
	want := []string{"auroraConnectionTracker", "failover", "efm2"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
