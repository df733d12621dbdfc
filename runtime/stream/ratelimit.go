package stream

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Sink with a token bucket so outbound events respect a
// channel's flood limits (chat platforms throttle per-conversation message
// rates). Keepalive events are dropped rather than delayed when no token is
// available: a late keepalive is worthless.
type RateLimited struct {
	next    Sink
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter allowing eventsPerSecond sustained
// throughput and the given burst. eventsPerSecond must be positive.
func NewRateLimited(next Sink, eventsPerSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
	}
}

// Send waits for a token then delegates to the wrapped sink. Keepalives that
// would have to wait are silently dropped.
func (s *RateLimited) Send(ctx context.Context, event Event) error {
	if event.Type() == EventKeepalive {
		if !s.limiter.Allow() {
			return nil
		}
		return s.next.Send(ctx, event)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.next.Send(ctx, event)
}

// Close delegates to the wrapped sink.
func (s *RateLimited) Close(ctx context.Context) error {
	return s.next.Close(ctx)
}
