package rv64

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// AsyncLineNotifier is the default Notifier: one long-lived goroutine per
// hart drains a capacity-1 "pending line state" channel, so a burst of
// UpdateMIP calls from other harts' threads coalesces into the single
// most recent raise/clear rather than queuing up notifications. Its
// goroutine's lifetime is tied to the context passed to
// NewAsyncLineNotifierContext (context.Background for
// NewAsyncLineNotifier); the hart's own thread never blocks on it.
type AsyncLineNotifier struct {
	hart    *Hart
	pending chan bool
	group   *errgroup.Group
}

// NewAsyncLineNotifier starts the notifier's drain goroutine under
// context.Background. Callers that want the goroutine to stop should use
// NewAsyncLineNotifierContext instead; NewHart uses this form because a
// hart's notifier is expected to live exactly as long as the process.
func NewAsyncLineNotifier(h *Hart) *AsyncLineNotifier {
	return NewAsyncLineNotifierContext(context.Background(), h)
}

// NewAsyncLineNotifierContext starts the notifier bound to ctx; cancelling
// ctx stops the drain goroutine.
func NewAsyncLineNotifierContext(ctx context.Context, h *Hart) *AsyncLineNotifier {
	n := &AsyncLineNotifier{
		hart:    h,
		pending: make(chan bool, 1),
	}
	g, ctx := errgroup.WithContext(ctx)
	n.group = g
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case raise := <-n.pending:
				n.deliver(raise)
			}
		}
	})
	return n
}

// NotifyInterruptLine implements Notifier. It never blocks: a pending
// notification still in flight is simply overwritten with the latest
// raise/clear state, matching spec.md §5's "coalescing" requirement.
func (n *AsyncLineNotifier) NotifyInterruptLine(h *Hart, raise bool) {
	select {
	case n.pending <- raise:
	default:
		select {
		case <-n.pending:
		default:
		}
		select {
		case n.pending <- raise:
		default:
		}
	}
}

// deliver is where a real host emulator would wake the hart's run loop
// (e.g. interrupting a blocking translation-block execution). This core
// doesn't own that loop, so delivery is a no-op hook left for embedders
// to override by supplying their own Notifier instead of this default.
func (n *AsyncLineNotifier) deliver(raise bool) {
	_ = raise
}

// Wait blocks until the drain goroutine exits, which only happens once
// its context is cancelled. Useful in tests to ensure clean shutdown.
func (n *AsyncLineNotifier) Wait() error {
	return n.group.Wait()
}
