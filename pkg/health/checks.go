package health

import (
	"context"
	"fmt"
)

// Pinger is anything that can prove its connection is alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p as up when it answers. A failing optional dependency
// only degrades the report; a nil optional one is reported as not
// configured.
func PingCheck(p Pinger, optional bool) Check {
	return func(ctx context.Context) ComponentHealth {
		failed := StatusDown
		if optional {
			failed = StatusDegraded
		}
		if p == nil {
			return ComponentHealth{Status: failed, Message: "not configured"}
		}
		if err := p.Ping(ctx); err != nil {
			return ComponentHealth{Status: failed, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Grammar is the loaded decoder as the readiness probe sees it.
type Grammar interface {
	RuleCounts() (unary, binary int)
}

// GrammarCheck degrades the report when the decoder holds no instantiated
// rules; such a replica can only ever answer no_derivation.
func GrammarCheck(g Grammar) Check {
	return func(context.Context) ComponentHealth {
		unary, binary := g.RuleCounts()
		if unary+binary == 0 {
			return ComponentHealth{Status: StatusDegraded, Message: "no instantiated rules loaded"}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: fmt.Sprintf("%d unary, %d binary rules", unary, binary),
		}
	}
}
