package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracekit/tracekit/internal/domain"
)

// CreateTrace validates and persists a new trace in status collecting.
// The consent policy decision is computed once here and stored on the
// trace so later QA stages never re-evaluate it.
func (s *Service) CreateTrace(ctx context.Context, req *domain.TraceCreateRequest) (*domain.TraceCreateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.Normalize()

	decision, err := s.policyEngine.Evaluate(ctx, req.Developer, req.Task.Labels)
	if err != nil {
		log.Printf("WARN: consent policy evaluation failed, denying raw storage: %v", err)
		decision = &domain.PolicyDecision{JudgeAllowed: false, StoreRawOutput: false}
	}

	now := time.Now().UnixMilli()
	trace := &domain.Trace{
		TraceID:      "trace_" + uuid.NewString(),
		TraceVersion: domain.TraceVersion,
		Status:       domain.TraceStatusCollecting,
		Repo:         req.Repo,
		Task:         req.Task,
		Developer:    req.Developer,
		Environment:  req.Environment,
		Policy:       decision,
		CreatedAtMs:  now,
	}

	if err := s.store.CreateTrace(ctx, trace); err != nil {
		return nil, err
	}

	return &domain.TraceCreateResponse{
		TraceID:     trace.TraceID,
		Status:      trace.Status,
		CreatedAtMs: now,
	}, nil
}

// GetTrace returns the trace document, optionally with its ordered
// event log and QA results attached.
func (s *Service) GetTrace(ctx context.Context, traceID string, includeEvents, includeQA bool) (*domain.Trace, []domain.Event, error) {
	trace, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return nil, nil, err
	}
	if trace == nil {
		return nil, nil, domain.NewNotFoundError("trace not found: " + traceID)
	}
	if !includeQA {
		trace.QA = nil
	}

	var events []domain.Event
	if includeEvents {
		events, err = s.store.GetEvents(ctx, traceID)
		if err != nil {
			return nil, nil, err
		}
	}
	return trace, events, nil
}

// Finalize moves a collecting trace to finalizing exactly once and
// hands it to the QA chain. A second finalize, or a finalize on a
// terminal trace, is a conflict.
func (s *Service) Finalize(ctx context.Context, traceID string, req *domain.FinalizeRequest) (*domain.FinalizeResponse, error) {
	if req == nil {
		return nil, domain.NewValidationError("final_state", "final_state is required")
	}

	qaJobID := "qa_" + strings.Split(uuid.NewString(), "-")[0]
	now := time.Now().UnixMilli()

	moved, err := s.store.FinalizeTrace(ctx, traceID, &req.FinalState, now, qaJobID)
	if err != nil {
		return nil, err
	}
	if !moved {
		trace, gerr := s.store.GetTrace(ctx, traceID)
		if gerr != nil {
			return nil, gerr
		}
		if trace == nil {
			return nil, domain.NewNotFoundError("trace not found: " + traceID)
		}
		return nil, domain.NewConflictError("trace " + traceID + " is " + string(trace.Status) + ", finalize requires collecting")
	}

	if s.qaQueue != nil {
		s.qaQueue.Enqueue(traceID)
	}

	return &domain.FinalizeResponse{
		TraceID: traceID,
		Status:  domain.TraceStatusFinalizing,
		QAJobID: qaJobID,
	}, nil
}

// MarkComplete moves a finalizing trace to complete. Repeating the call
// on an already complete trace is a no-op; any other state conflicts.
func (s *Service) MarkComplete(ctx context.Context, traceID string) error {
	return s.terminalTransition(ctx, traceID, domain.TraceStatusComplete)
}

// MarkFailed moves a finalizing trace to failed. Idempotent like
// MarkComplete.
func (s *Service) MarkFailed(ctx context.Context, traceID string) error {
	return s.terminalTransition(ctx, traceID, domain.TraceStatusFailed)
}

func (s *Service) terminalTransition(ctx context.Context, traceID string, to domain.TraceStatus) error {
	moved, err := s.store.UpdateStatusFrom(ctx, traceID, domain.TraceStatusFinalizing, to)
	if err != nil {
		return err
	}
	if moved {
		return nil
	}
	trace, err := s.store.GetTrace(ctx, traceID)
	if err != nil {
		return err
	}
	if trace == nil {
		return domain.NewNotFoundError("trace not found: " + traceID)
	}
	if trace.Status == to {
		return nil
	}
	return domain.NewConflictError("trace " + traceID + " is " + string(trace.Status) + ", cannot move to " + string(to))
}
