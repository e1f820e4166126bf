// Package alerts queues engine notifications and delivers them to Telegram.
package alerts

import "sync"

type Channel string

const (
	ChannelHeartbeat    Channel = "heartbeat"
	ChannelLiquidations Channel = "liquidations"
	ChannelWaiting      Channel = "waiting"
	ChannelTrades       Channel = "trades"
	ChannelPositions    Channel = "positions"
)

func Channels() []Channel {
	return []Channel{ChannelHeartbeat, ChannelLiquidations, ChannelWaiting, ChannelTrades, ChannelPositions}
}

type Message struct {
	Channel Channel
	Lines   []string
	Urgent  bool
}

// Outbox collects messages during a tick. Drain hands them off and clears the
// queue in one step, so nothing appended concurrently is lost or sent twice.
type Outbox struct {
	mu   sync.Mutex
	msgs []Message
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Append(channel Channel, urgent bool, lines ...string) {
	if len(lines) == 0 {
		return
	}
	o.mu.Lock()
	o.msgs = append(o.msgs, Message{Channel: channel, Lines: append([]string(nil), lines...), Urgent: urgent})
	o.mu.Unlock()
}

func (o *Outbox) Drain() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.msgs
	o.msgs = nil
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.msgs)
}
