package spindle

import "sync"

// serviceRequest pairs one request payload with the future its response
// settles.
type serviceRequest struct {
	req  Data
	done *Future
}

// Service is an in-process request/response waitable. Call enqueues a
// request and signals readiness; the dispatching executor runs the handler
// and settles the call's future with its response.
type Service struct {
	*GuardWaitable
	name    string
	handler func(req Data) (Data, error)

	mu      sync.Mutex
	pending []serviceRequest
}

// NewService returns a service. The handler runs on the dispatching executor
// goroutine; its error, if any, fails the caller's future.
func NewService(name string, handler func(req Data) (Data, error)) *Service {
	return &Service{
		GuardWaitable: NewGuardWaitable(),
		name:          name,
		handler:       handler,
	}
}

// Name returns the service's name.
func (s *Service) Name() string { return s.name }

// Call enqueues a request and returns the future its response will settle.
// The service must be registered with a spinning executor for the future to
// complete.
func (s *Service) Call(req Data) *Future {
	f := NewFuture()
	s.mu.Lock()
	s.pending = append(s.pending, serviceRequest{req: req, done: f})
	s.mu.Unlock()
	s.Trigger()
	return f
}

// TakeData consumes one pending request. Fails with ErrInvariantViolation
// unless IsReady reported true since the last take.
func (s *Service) TakeData() (Data, error) {
	if _, err := s.GuardWaitable.TakeData(); err != nil {
		return nil, err
	}
	return s.pop(), nil
}

// TakeDataByID consumes one pending request on the event-queue path.
func (s *Service) TakeDataByID(id int) (Data, error) {
	if _, err := s.GuardWaitable.TakeDataByID(id); err != nil {
		return nil, err
	}
	return s.pop(), nil
}

func (s *Service) pop() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	r := s.pending[0]
	s.pending[0] = serviceRequest{}
	s.pending = s.pending[1:]
	return r
}

// Execute runs the handler and settles the caller's future.
func (s *Service) Execute(data Data) {
	r, ok := data.(serviceRequest)
	if !ok {
		return
	}
	resp, err := s.handler(r.req)
	if err != nil {
		r.done.Fail(err)
		return
	}
	r.done.Complete(resp)
}
