package strategy

type State string

type Event string

const (
	StateCreated   State = "CREATED"
	StatePending   State = "PENDING"
	StateTriggered State = "TRIGGERED"
	StateSubmitted State = "SUBMITTED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
)

const (
	EventConfirm Event = "CONFIRM"
	EventTrigger Event = "TRIGGER"
	EventSubmit  Event = "SUBMIT"
	EventCancel  Event = "CANCEL"
	EventExpire  Event = "EXPIRE"
)

func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateCancelled, StateExpired:
		return true
	}
	return false
}

const (
	ReasonCancelThreshold = "price moved beyond 'no order' threshold"
	ReasonTooEarly        = "need at least 2 candles after confirmation"
	ReasonOutsideWindow   = "outside entry days / hours"
	ReasonPaused          = "trading paused"
	ReasonExpired         = "expired"
	ReasonOrderFailed     = "order placement failed"
)
