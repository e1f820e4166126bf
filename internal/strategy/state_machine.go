package strategy

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	State State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateCreated}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}

// nextState never moves CREATED straight to TRIGGERED: an entry has to survive one tick first.
func nextState(current State, event Event) State {
	switch current {
	case StateCreated:
		switch event {
		case EventConfirm:
			return StatePending
		case EventCancel:
			return StateCancelled
		case EventExpire:
			return StateExpired
		}
	case StatePending:
		switch event {
		case EventTrigger:
			return StateTriggered
		case EventCancel:
			return StateCancelled
		case EventExpire:
			return StateExpired
		}
	case StateTriggered:
		switch event {
		case EventSubmit:
			return StateSubmitted
		case EventCancel:
			return StateCancelled
		}
	}
	return current
}
