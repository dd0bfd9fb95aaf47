package spindle

import "sync"

// Subscription is an in-process subscription waitable: messages are pushed
// into a bounded inbox by the delivering side and consumed one per
// readiness signal by the dispatching executor. Wire transport and QoS are
// outside this engine; Deliver is the boundary.
type Subscription struct {
	*GuardWaitable
	name    string
	handler func(msg Data)

	mu      sync.Mutex
	inbox   []Data
	depth   int
	dropped uint64
}

// NewSubscription returns a subscription with the given inbox depth
// (minimum 1). The handler runs on the dispatching executor goroutine.
func NewSubscription(name string, depth int, handler func(msg Data)) *Subscription {
	if depth < 1 {
		depth = 1
	}
	return &Subscription{
		GuardWaitable: NewGuardWaitable(),
		name:          name,
		handler:       handler,
		depth:         depth,
	}
}

// Name returns the subscription's topic name.
func (s *Subscription) Name() string { return s.name }

// Deliver pushes one message and signals readiness. When the inbox is full
// the oldest message is dropped, matching keep-last queue semantics; the
// readiness signal is still raised so the consumer drains at its own pace.
func (s *Subscription) Deliver(msg Data) {
	s.mu.Lock()
	if len(s.inbox) >= s.depth {
		s.inbox = s.inbox[1:]
		s.dropped++
	}
	s.inbox = append(s.inbox, msg)
	s.mu.Unlock()
	s.Trigger()
}

// Dropped reports how many messages were discarded to a full inbox.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// TakeData consumes one pending message. Fails with ErrInvariantViolation
// unless IsReady reported true since the last take.
func (s *Subscription) TakeData() (Data, error) {
	if _, err := s.GuardWaitable.TakeData(); err != nil {
		return nil, err
	}
	return s.pop(), nil
}

// TakeDataByID consumes one pending message on the event-queue path.
func (s *Subscription) TakeDataByID(id int) (Data, error) {
	if _, err := s.GuardWaitable.TakeDataByID(id); err != nil {
		return nil, err
	}
	return s.pop(), nil
}

func (s *Subscription) pop() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) == 0 {
		return nil
	}
	msg := s.inbox[0]
	s.inbox[0] = nil
	s.inbox = s.inbox[1:]
	return msg
}

// Execute runs the handler with the taken message. Readiness signals whose
// message was displaced by a keep-last drop execute with no data and are
// skipped.
func (s *Subscription) Execute(data Data) {
	if data == nil {
		return
	}
	s.handler(data)
}
