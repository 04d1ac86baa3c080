package settlement

import (
	"context"

	d "github.com/fjod/go_cart/settlement-service/domain"
)

const (
	staleBatch           = 100
	confirmationTimedOut = "payment confirmation timed out"
)

// ExpireStale fails orders the processor never confirmed within the
// confirmation TTL and releases their stock. It returns how many it moved.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.ledger.FindStale(ctx, s.now().Add(-s.cfg.ConfirmationTTL), staleBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		res, err := s.ledger.Transition(ctx, id, transitionTo(d.OrderStatusError, "", confirmationTimedOut), s.releaseHook())
		if err != nil {
			s.log.ErrorContext(ctx, "failed to expire order", "order_id", id, "error", err)
			continue
		}
		if res.Applied {
			expired++
			s.log.InfoContext(ctx, "order expired", "order_id", id)
		}
	}
	return expired, nil
}
