package transport

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrConnectionGone is returned by Sender.Send when connID is no longer
// registered: the caller should treat this as already-handled, not retry
// (§4.9).
var ErrConnectionGone = errors.New("transport: connection gone")

// ErrBackpressure is returned when connID's per-connection rate limit is
// exhausted or its outbound buffer is full; the relay drops the message
// rather than blocking the whole connection registry on one slow reader
// (§4.9, §5).
var ErrBackpressure = errors.New("transport: send buffer full")

// NetworkError wraps a lower-level send failure that isn't simply "the
// connection doesn't exist", distinguished from ErrConnectionGone so
// callers can log infrastructure problems differently from routine
// disconnects (§4.9, §7).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "transport: network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Sender is C9's public contract: best-effort delivery of one outbound
// frame to one connection, rate-limited per connection to bound how fast a
// single slow subscriber can be force-fed.
type Sender struct {
	registry *Registry

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewSender builds a Sender. ratePerSecond/burst configure the per-
// connection token bucket (golang.org/x/time/rate) that bounds outbound
// message rate (§5 backpressure).
func NewSender(registry *Registry, ratePerSecond float64, burst int) *Sender {
	return &Sender{
		registry: registry,
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(ratePerSecond),
		burst:    burst,
	}
}

func (s *Sender) limiterFor(connID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[connID]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[connID] = l
	}
	return l
}

// Send queues data for connID's writer goroutine. It returns
// ErrConnectionGone if the connection is no longer registered and
// ErrBackpressure if the rate limit is exhausted or the outbound buffer is
// full (§4.9). It does not return a *NetworkError: write failures happen
// later in the connection's write pump, which then removes the connection.
func (s *Sender) Send(connID string, data []byte) error {
	s.registry.mu.RLock()
	c, ok := s.registry.conns[connID]
	s.registry.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}

	if !s.limiterFor(connID).Allow() {
		return ErrBackpressure
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// Forget drops the rate limiter state for connID, called on disconnect to
// bound memory use.
func (s *Sender) Forget(connID string) {
	s.mu.Lock()
	delete(s.limiters, connID)
	s.mu.Unlock()
}
