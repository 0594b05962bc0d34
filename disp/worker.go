package disp

import "log/slog"

// runWorker pops demands from q until it is closed and drained,
// executing each one. Exec errors are logged rather than propagated:
// a worker thread must never die because one handler returned an error
// that is not an agent exception (those are routed through the agent's
// exception-reaction policy before Exec ever returns one here).
func runWorker(logger *slog.Logger, q EventQueue) {
	for {
		d, ok := q.Pop()
		if !ok {
			return
		}
		if d.Exec == nil {
			continue
		}
		if err := d.Exec(); err != nil {
			logger.Error("demand execution failed", "agent_id", d.AgentID, "err", err)
		}
	}
}
