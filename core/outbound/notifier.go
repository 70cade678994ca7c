package outbound

import "context"

// AsyncNotifier pushes fire-and-forget notices through the dispatcher
// queue so callers never block on the WhatsApp API. Used for session
// expiry messages, where delivery matters but latency does not.
type AsyncNotifier struct {
	disp   *Dispatcher
	sender Sender
}

func NewAsyncNotifier(disp *Dispatcher, sender Sender) *AsyncNotifier {
	return &AsyncNotifier{disp: disp, sender: sender}
}

// SendText enqueues the notice. The returned error reports queue
// rejection only; delivery failures are retried by the dispatcher.
func (n *AsyncNotifier) SendText(ctx context.Context, phone, text string) error {
	return n.disp.Enqueue(ctx, "notify", func(c context.Context) error {
		return n.sender.SendText(c, phone, text)
	})
}
