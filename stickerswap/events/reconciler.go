package events

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotFunc fetches the authoritative server view of one session.
type SnapshotFunc func(ctx context.Context) (*SessionView, error)

const defaultPollInterval = 15 * time.Second

// Reconciler keeps one session's local view converged with the server: it
// subscribes to the push hub for low-latency updates and polls the snapshot
// endpoint as the safety net for dropped or reordered pushes. Both inputs
// land in the same reducer, so divergence self-heals on the next poll.
type Reconciler struct {
	sessionID string
	hub       Hub
	snapshot  SnapshotFunc
	reducer   *Reducer
	interval  time.Duration

	// OnChange, when set, is invoked after every state change with a copy of
	// the new view. Called from the reconciler goroutine.
	OnChange func(*SessionView)

	stop chan struct{}
	done chan struct{}
}

func NewReconciler(sessionID string, hub Hub, snapshot SnapshotFunc, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Reconciler{
		sessionID: sessionID,
		hub:       hub,
		snapshot:  snapshot,
		reducer:   NewReducer(),
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// View returns the current reconciled state, nil before the first snapshot.
func (r *Reconciler) View() *SessionView {
	return r.reducer.View()
}

// Start subscribes, takes the initial snapshot and runs the reconcile loop in
// a goroutine until Shutdown or context cancellation.
func (r *Reconciler) Start(ctx context.Context) error {
	sub, err := r.hub.Subscribe(ctx, r.sessionID)
	if err != nil {
		return err
	}

	r.poll(ctx)

	go func() {
		defer close(r.done)
		defer sub.Cancel()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if r.reducer.ApplyPush(ev) {
					r.notify()
				} else {
					// A push the reducer cannot place means the local view
					// is behind; fetch the authoritative state right away.
					r.poll(ctx)
				}
			case <-ticker.C:
				r.poll(ctx)
			}
		}
	}()
	return nil
}

func (r *Reconciler) Shutdown() {
	close(r.stop)
	<-r.done
}

func (r *Reconciler) poll(ctx context.Context) {
	view, err := r.snapshot(ctx)
	if err != nil {
		slog.Warn("Session snapshot poll failed",
			slog.String("session_id", r.sessionID),
			slog.String("error", err.Error()))
		return
	}
	r.reducer.ApplyServer(view)
	r.notify()
}

func (r *Reconciler) notify() {
	if r.OnChange != nil {
		r.OnChange(r.reducer.View())
	}
}
