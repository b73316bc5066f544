// Package service implements the trace lifecycle and event log
// operations on top of the repository and blob store.
package service

import (
	"github.com/tracekit/tracekit/internal/blob"
	"github.com/tracekit/tracekit/internal/config"
	store "github.com/tracekit/tracekit/internal/repository"
	"github.com/tracekit/tracekit/policy"
)

// QAQueue receives trace ids whose QA chain should run. The worker
// behind it is free to coalesce duplicate enqueues; stages are
// idempotent either way.
type QAQueue interface {
	Enqueue(traceID string)
}

type Service struct {
	store        store.Store
	blobs        blob.Store
	policyEngine *policy.Engine
	config       *config.Config
	qaQueue      QAQueue
}

func New(st store.Store, blobs blob.Store, policyEngine *policy.Engine, cfg *config.Config) *Service {
	return &Service{
		store:        st,
		blobs:        blobs,
		policyEngine: policyEngine,
		config:       cfg,
	}
}

// SetQAQueue wires the QA worker's queue. Separate from New because
// the worker needs the store the service is built on.
func (s *Service) SetQAQueue(q QAQueue) {
	s.qaQueue = q
}

// Store exposes the underlying repository to the QA worker wiring.
func (s *Service) Store() store.Store {
	return s.store
}

// Blobs exposes the blob store to the QA worker wiring.
func (s *Service) Blobs() blob.Store {
	return s.blobs
}
