package telemetry

import (
	"context"

	"google.golang.org/grpc/stats"
)

// GRPCHandler adapts a telemetry Factory to the grpc/stats.Handler contract,
// so a host application that already wires gRPC stats handlers into its
// interceptor stack can forward clusterlink's connect/execute spans through
// the same pipeline instead of standing up a second telemetry exporter.
type GRPCHandler struct {
	Factory Factory
}

var _ stats.Handler = (*GRPCHandler)(nil)

func (h *GRPCHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	ctx, span := h.Factory.StartSpan(ctx, info.FullMethodName)
	return context.WithValue(ctx, grpcStatsSpanKey{}, span)
}

func (h *GRPCHandler) HandleRPC(ctx context.Context, s stats.RPCStats) {
	span, _ := ctx.Value(grpcStatsSpanKey{}).(Span)
	if span == nil {
		return
	}
	switch v := s.(type) {
	case *stats.End:
		if v.Error != nil {
			span.RecordError(v.Error)
		}
		span.End()
	}
}

func (h *GRPCHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context { return ctx }
func (h *GRPCHandler) HandleConn(context.Context, stats.ConnStats)                       {}

type grpcStatsSpanKey struct{}
