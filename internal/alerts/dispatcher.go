package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Sender interface {
	Deliver(ctx context.Context, msg Message) error
}

// Dispatcher delivers drained outbox batches in the background. Enqueue never
// blocks the caller; a full queue drops the batch with a warning.
type Dispatcher struct {
	sender  Sender
	queue   chan []Message
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(sender Sender, size int, log *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{sender: sender, queue: make(chan []Message, size), timeout: 30 * time.Second, log: log}
}

func (d *Dispatcher) Enqueue(batch []Message) bool {
	if len(batch) == 0 || d.sender == nil {
		return true
	}
	select {
	case d.queue <- batch:
		return true
	default:
		d.log.Warn("notification queue full, dropping batch", zap.Int("messages", len(batch)))
		return false
	}
}

// Run delivers batches until ctx is cancelled. Delivery failures are logged
// and never retried.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-d.queue:
			for _, msg := range batch {
				sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
				err := d.sender.Deliver(sendCtx, msg)
				cancel()
				if err != nil {
					d.log.Warn("notification delivery failed", zap.String("channel", string(msg.Channel)), zap.Error(err))
				}
			}
		}
	}
}
