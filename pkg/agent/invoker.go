package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/chasef07/marketplace/pkg/metrics"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/tracing"
)

// DefaultTimeout bounds a single agent consultation.
const DefaultTimeout = 5 * time.Second

// ErrUnavailable is returned when the decider timed out, failed, or
// panicked. Callers treat it as "no decision this time", never as a failure
// of the operation that triggered the consultation.
var ErrUnavailable = errors.New("agent unavailable")

// Invoker wraps a DecisionPort with a hard timeout and panic isolation so a
// misbehaving decider can never take down or stall the request that invoked
// it.
type Invoker struct {
	port    DecisionPort
	timeout time.Duration
	logger  ectologger.Logger
}

// NewInvoker wraps the given port. A non-positive timeout falls back to
// DefaultTimeout.
func NewInvoker(port DecisionPort, timeout time.Duration, logger ectologger.Logger) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Invoker{port: port, timeout: timeout, logger: logger}
}

type decideResult struct {
	decision *Decision
	err      error
}

// Decide runs the underlying port under the configured timeout. Decider
// errors, timeouts, and panics all collapse into ErrUnavailable; the real
// cause is logged and counted but never propagated.
func (i *Invoker) Decide(ctx context.Context, in Input) (*Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "Agent.Invoker.Decide")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan decideResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- decideResult{err: fmt.Errorf("decider panic: %v", r)}
			}
		}()
		d, err := i.port.Decide(ctx, in)
		ch <- decideResult{decision: d, err: err}
	}()

	var res decideResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = decideResult{err: ctx.Err()}
	}
	metrics.AgentDecisionDuration.Observe(time.Since(start).Seconds())

	if res.err != nil {
		metrics.AgentUnavailableTotal.Inc()
		i.logger.WithContext(ctx).WithError(res.err).WithFields(map[string]any{
			"negotiation_id": in.Negotiation.ID,
			"item_id":        in.Item.ID,
		}).Warn("agent consultation failed")
		return nil, ErrUnavailable
	}
	if res.decision == nil {
		metrics.AgentUnavailableTotal.Inc()
		return nil, ErrUnavailable
	}
	if res.decision.Type == models.AgentDecisionCounter && res.decision.CounterPrice == nil {
		metrics.AgentUnavailableTotal.Inc()
		i.logger.WithContext(ctx).WithFields(map[string]any{
			"negotiation_id": in.Negotiation.ID,
		}).Warn("agent returned COUNTER without a price, discarding")
		return nil, ErrUnavailable
	}

	metrics.AgentDecisionsTotal.WithLabelValues(string(res.decision.Type)).Inc()
	return res.decision, nil
}
