package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tessera.org/internal/obs"
)

// ErrDispatcherClosed is returned by Send after Close.
var ErrDispatcherClosed = errors.New("mail: dispatcher closed")

// Dispatcher decouples callers from delivery: Send enqueues and returns, a
// worker goroutine hands mails to the underlying sender. Failures are logged
// and counted, never reported back to the caller.
type Dispatcher struct {
	next    Sender
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Mail
	wg     sync.WaitGroup
}

// NewDispatcher starts a single worker with a queue of the given capacity.
func NewDispatcher(next Sender, capacity int, timeout time.Duration) *Dispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{next: next, timeout: timeout, queue: make(chan Mail, capacity)}
	d.wg.Add(1)
	go d.run()
	return d
}

// Send enqueues m. A full queue drops the mail.
func (d *Dispatcher) Send(_ context.Context, m Mail) error {
	if err := m.Validate(); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- m:
	default:
		obs.MailPublished("dropped")
		obs.Logger().Warn("mail_dropped", slog.String("template", m.Template))
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for m := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.next.Send(ctx, m)
		cancel()
		if err != nil {
			obs.MailPublished("failed")
			obs.Logger().Error("mail_send_failed",
				slog.String("template", m.Template),
				slog.String("error", err.Error()),
			)
			continue
		}
		obs.MailPublished("sent")
	}
}

// Close stops accepting mail and waits until the queue is drained.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
