package service

import (
	"context"

	"github.com/tracekit/tracekit/internal/domain"
)

// AppendEvents appends a batch to the trace's event log. The batch is
// atomic: either every event is stored with strictly increasing seq, or
// none are. A duplicate event_id anywhere in the batch rejects the
// whole batch.
func (s *Service) AppendEvents(ctx context.Context, traceID string, batch *domain.EventBatch) (*domain.EventsAcceptedResponse, error) {
	if err := domain.ValidateBatch(batch); err != nil {
		return nil, err
	}

	accepted, seqHigh, err := s.store.AppendEvents(ctx, traceID, batch.Events)
	if err != nil {
		return nil, err
	}

	return &domain.EventsAcceptedResponse{
		Accepted: accepted,
		SeqHigh:  seqHigh,
	}, nil
}
