package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/nethalo/clusterlink/internal/telemetry"
)

type fakeGauge struct {
	samples []float64
}

func (g *fakeGauge) Set(ctx context.Context, value float64, attrs ...telemetry.Attr) {
	g.samples = append(g.samples, value)
}

func TestConnectTime_RecordsOneSamplePerCall(t *testing.T) {
	g := &fakeGauge{}
	p := ConnectTime{Gauge: g}
	terminal := func(ctx context.Context, call *Call) (any, error) { return nil, nil }

	if _, err := p.Execute(context.Background(), &Call{Method: MethodConnect}, terminal); err != nil {
		t.Fatal(err)
	}
	if len(g.samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(g.samples))
	}
}

type fakeCounter struct {
	incs int
}

func (c *fakeCounter) Inc(ctx context.Context, delta int64, attrs ...telemetry.Attr) {
	c.incs++
}

func TestAuroraConnectionTracker_CountsSuccessfulConnectsOnly(t *testing.T) {
	c := &fakeCounter{}
	p := AuroraConnectionTracker{Counter: c}
	ok := func(ctx context.Context, call *Call) (any, error) { return nil, nil }

	if _, err := p.Execute(context.Background(), &Call{Method: MethodConnect, Args: map[string]any{"host": "writer-1"}}, ok); err != nil {
		t.Fatal(err)
	}
	if c.incs != 1 {
		t.Fatalf("got %d increments, want 1", c.incs)
	}

	if _, err := p.Execute(context.Background(), &Call{Method: MethodNotifyConnectionChanged}, ok); err != nil {
		t.Fatal(err)
	}
	if c.incs != 1 {
		t.Fatalf("expected notifyConnectionChanged not to increment, got %d", c.incs)
	}
}

type fakeResolver struct {
	calls []string
	addrs [][]string
	idx   int
}

func (r *fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.calls = append(r.calls, host)
	addrs := r.addrs[r.idx]
	if r.idx < len(r.addrs)-1 {
		r.idx++
	}
	return addrs, nil
}

func TestStaleDNSChecker_FiresOnChangedAddress(t *testing.T) {
	resolver := &fakeResolver{addrs: [][]string{{"10.0.0.1"}, {"10.0.0.2"}}}
	var fired int
	p := &StaleDNSChecker{Resolver: resolver, WriterHost: "writer.cluster.example", OnStaleDNS: func(context.Context) { fired++ }}
	noop := func(ctx context.Context, call *Call) (any, error) { return nil, nil }

	if _, err := p.Execute(context.Background(), &Call{Method: MethodConnect}, noop); err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Fatalf("expected no signal on first resolution, got %d", fired)
	}
	if _, err := p.Execute(context.Background(), &Call{Method: MethodConnect}, noop); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("expected one stale-DNS signal after address changed, got %d", fired)
	}
}

func TestIAMAuth_ReplacesPasswordWithToken(t *testing.T) {
	p := IAMAuth{
		Region: "us-east-1",
		TokenFn: func(host string, port int, user, region string, now time.Time) (string, error) {
			return "token-for-" + host, nil
		},
	}
	noop := func(ctx context.Context, call *Call) (any, error) { return nil, nil }

	call := &Call{Method: MethodConnect, Args: map[string]any{"host": "writer-1", "port": 3306, "user": "app"}}
	if _, err := p.Execute(context.Background(), call, noop); err != nil {
		t.Fatal(err)
	}
	if call.Args["password"] != "token-for-writer-1" {
		t.Fatalf("got %v", call.Args["password"])
	}
}
