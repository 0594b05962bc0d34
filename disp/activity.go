package disp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/webitel/actorkit/id"
)

// activityQueue wraps an EventQueue to record working-vs-waiting time per
// spec.md §6 `work_thread_activity_tracking`, instrumented through an
// in-process OTel metric.Meter — no OTLP exporter is wired (SPEC_FULL.md
// AMBIENT STACK), so this never leaves the process.
type activityQueue struct {
	EventQueue
	agentID  id.Agent
	waiting  metric.Float64Histogram
	working  metric.Float64Histogram
	waitedAt time.Time
}

// ActivityTracking returns a disp.Hook that records, per popped demand,
// how long the worker spent waiting for it versus how long that demand
// then spent executing.
func ActivityTracking(meter metric.Meter) (Hook, error) {
	waiting, err := meter.Float64Histogram("actorkit.dispatcher.wait_seconds")
	if err != nil {
		return nil, err
	}
	working, err := meter.Float64Histogram("actorkit.dispatcher.work_seconds")
	if err != nil {
		return nil, err
	}

	return func(agentID id.Agent, q EventQueue) EventQueue {
		return &activityQueue{EventQueue: q, agentID: agentID, waiting: waiting, working: working, waitedAt: time.Now()}
	}, nil
}

// Pop overrides the embedded EventQueue.Pop to bracket each demand with
// histogram observations.
func (q *activityQueue) Pop() (Demand, bool) {
	start := time.Now()
	d, ok := q.EventQueue.Pop()
	waited := time.Since(start)

	attrs := metric.WithAttributes()
	q.waiting.Record(context.Background(), waited.Seconds(), attrs)

	if ok {
		innerExec := d.Exec
		execStart := time.Now()
		d.Exec = func() error {
			defer func() {
				q.working.Record(context.Background(), time.Since(execStart).Seconds(), attrs)
			}()
			if innerExec == nil {
				return nil
			}
			return innerExec()
		}
	}
	return d, ok
}
