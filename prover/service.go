package prover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightfold/lightfold/log"
	"github.com/lightfold/lightfold/storage"
)

// Service is a worker that drains the rotation request queue and applies
// each request to the prover. Requests the committee can never accept are
// dropped; transient failures release the request for a retry.
type Service struct {
	prover *Prover
	stg    *storage.Storage
	ctx    context.Context
	cancel context.CancelFunc

	// tickInterval is how often the queue is polled when idle.
	tickInterval time.Duration
}

// NewService creates a rotation service over the given prover and storage.
func NewService(p *Prover, stg *storage.Storage, tickInterval time.Duration) (*Service, error) {
	if p == nil {
		return nil, fmt.Errorf("prover cannot be nil")
	}
	if tickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	return &Service{prover: p, stg: stg, tickInterval: tickInterval}, nil
}

// Start begins the background rotation processor. It runs until the context
// is canceled or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(s.tickInterval)
	go func() {
		defer ticker.Stop()
		log.Infow("rotation processor started", "tickInterval", s.tickInterval.String())
		for {
			select {
			case <-s.ctx.Done():
				log.Infow("rotation processor stopped")
				return
			case <-ticker.C:
				s.processPendingRotations()
			}
		}
	}()
	return nil
}

// Stop gracefully shuts down the service by canceling its context. It's safe
// to call Stop multiple times.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// processPendingRotations drains the queue until it is empty or the context
// is canceled.
func (s *Service) processPendingRotations() {
	for {
		if s.ctx.Err() != nil {
			return
		}
		req, key, err := s.stg.NextRotation()
		if errors.Is(err, storage.ErrNoMoreElements) {
			return
		}
		if err != nil {
			log.Warnw("cannot pull rotation request", "error", err.Error())
			return
		}

		state, err := s.prover.ApplyRotation(s.ctx, req)
		switch {
		case err == nil:
			if err := s.stg.MarkRotationDone(key); err != nil {
				log.Warnw("cannot mark rotation done", "error", err.Error())
			}
			log.Infow("rotation request processed",
				"epoch", state.Epoch, "root", state.Root.String())
		case isPermanent(err):
			// the request can never succeed, drop it
			log.Warnw("dropping rotation request",
				"epoch", req.Epoch, "error", err.Error())
			if err := s.stg.MarkRotationDone(key); err != nil {
				log.Warnw("cannot drop rotation request", "error", err.Error())
			}
		default:
			log.Warnw("rotation request failed, will retry",
				"epoch", req.Epoch, "error", err.Error())
			if err := s.stg.MarkRotationFailed(key); err != nil {
				log.Warnw("cannot release rotation request", "error", err.Error())
			}
			return
		}
	}
}

// isPermanent reports whether a rotation error can never resolve by
// retrying.
func isPermanent(err error) bool {
	return errors.Is(err, ErrStaleRoot) ||
		errors.Is(err, ErrQuorumNotReached) ||
		errors.Is(err, ErrMalformedCommittee) ||
		errors.Is(err, ErrUnsatisfiableWitness)
}
