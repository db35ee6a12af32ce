package offline

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/proctor/internal/branch"
	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/navigation"
)

// Reconciliation is the outcome of replaying an offline path.
type Reconciliation struct {
	// State is the authoritative state: the end of the replayed path, or
	// the confirmed state when the path diverged.
	State    navigation.State
	Applied  int
	Finished bool
	Diverged bool
	// DivergedAt is the first offline jump the live navigator disagreed with.
	DivergedAt *Jump
	Reason     string
}

// ResponsesFunc returns the responses branch rules see while jump j is
// replayed from st. It is called once per jump, in order.
type ResponsesFunc func(st navigation.State, j Jump) branch.ResponseStore

// Reconciler validates offline paths against the live navigator.
type Reconciler struct {
	nav    *navigation.Navigator
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(nav *navigation.Navigator, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{nav: nav, logger: logger}
}

// Reconcile replays log from the last server-confirmed state. The live
// navigator decides every move; on the first disagreement the whole offline
// path is discarded and the confirmed state is returned. responses may be
// nil, in which case branch rules see no responses.
func (r *Reconciler) Reconcile(ctx context.Context, confirmed navigation.State, log []Jump, m *domain.TestMap, responses ResponsesFunc) (Reconciliation, error) {
	st := confirmed
	for i := range log {
		j := log[i]
		if err := ctx.Err(); err != nil {
			return Reconciliation{State: confirmed}, err
		}

		var store branch.ResponseStore
		if responses != nil {
			store = responses(st, j)
		}
		next, finished, reason := r.apply(ctx, st, j, m, store)
		if reason != "" {
			r.logger.Warn("offline path diverged, keeping server state",
				"execution_id", confirmed.ExecutionID,
				"seq", j.Seq,
				"move", j.Move().String(),
				"from", j.From,
				"reason", reason)
			return Reconciliation{
				State:      confirmed,
				Diverged:   true,
				DivergedAt: &j,
				Reason:     reason,
			}, nil
		}
		st = next
		if finished {
			r.logger.Info("offline path reconciled",
				"execution_id", confirmed.ExecutionID,
				"applied", i+1,
				"finished", true)
			return Reconciliation{State: st, Applied: i + 1, Finished: true}, nil
		}
	}

	r.logger.Info("offline path reconciled",
		"execution_id", confirmed.ExecutionID,
		"applied", len(log))
	return Reconciliation{State: st, Applied: len(log)}, nil
}

// apply replays one jump and returns a non-empty reason when the live
// navigator disagrees with it.
func (r *Reconciler) apply(ctx context.Context, st navigation.State, j Jump, m *domain.TestMap, responses branch.ResponseStore) (navigation.State, bool, string) {
	if st.Context.ItemPosition != j.From {
		return st, false, "jump does not start at the current position"
	}

	out, err := r.nav.Move(ctx, navigation.Request{
		Direction: j.Direction,
		Scope:     j.Scope,
		Position:  j.Position,
		Responses: responses,
	}, st, m)
	if err != nil {
		return st, false, err.Error()
	}

	if out.Blocked() {
		if !j.Confirm {
			return st, false, "move requires a confirmation the offline path did not record"
		}
		out, err = out.Pending.Accept(ctx)
		if err != nil {
			return st, false, err.Error()
		}
	}

	to := out.State.Context.ItemPosition
	if out.Finished {
		to = m.Len()
	}
	if to != j.To || out.Finished != j.Finished {
		return st, false, "live navigator reached a different position"
	}
	return out.State, out.Finished, ""
}
