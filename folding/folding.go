// Package folding accumulates rotation steps into a single proof a light
// client can verify against just the genesis and final folded states, without
// seeing any intermediate committee.
//
// The Engine interface is a capability contract: the reference backend proves
// every step with Groth16 and compresses the chain of proofs, a recursive
// folding backend can replace it without touching the callers.
package folding

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightfold/lightfold/circuits/rotation"
	"github.com/lightfold/lightfold/types"
)

var (
	// ErrChainBroken is returned when the step statements do not chain:
	// a step starts from a root or epoch its predecessor did not produce.
	ErrChainBroken = errors.New("folded step chain is broken")
	// ErrStateMismatch is returned when the chain does not connect the
	// claimed genesis and final states.
	ErrStateMismatch = errors.New("folded chain does not match the claimed states")
	// ErrEmptyProof is returned when a proof carries no steps.
	ErrEmptyProof = errors.New("folded proof carries no steps")
)

// StepStatement is the public statement of one folded rotation step.
type StepStatement struct {
	RootBefore  types.HexBytes `json:"rootBefore"`
	RootAfter   types.HexBytes `json:"rootAfter"`
	EpochBefore uint64         `json:"epochBefore"`
	Threshold   uint64         `json:"threshold"`
}

// Proof is the output of compressing an accumulated chain. Steps carry the
// public statements; Data carries backend-specific proof material and is
// opaque to everything but the engine that produced it.
type Proof struct {
	Steps []StepStatement `json:"steps"`
	Data  []byte          `json:"data,omitempty"`
}

// Engine accumulates rotation steps and compresses them into one proof.
// Accumulate must reject a step whose witness does not satisfy the rotation
// circuit, so an unsatisfiable rotation surfaces at fold time, not at
// verification time. Rollback discards the most recently accumulated step;
// a caller that fails to persist a step's outcome uses it to keep the chain
// head aligned with the state, so the step can be retried.
type Engine interface {
	Accumulate(ctx context.Context, step *rotation.StepInput) error
	Rollback() error
	Compress() (*Proof, error)
	Verify(proof *Proof, genesis, final *types.FoldedState) error
}

// statementOf extracts the public statement of a step input.
func statementOf(step *rotation.StepInput) StepStatement {
	return StepStatement{
		RootBefore:  append(types.HexBytes{}, step.RootBefore...),
		RootAfter:   append(types.HexBytes{}, step.RootAfter...),
		EpochBefore: step.EpochBefore,
		Threshold:   step.Threshold,
	}
}

// verifyChain checks that the statements form an unbroken chain from genesis
// to final: roots link pairwise, epochs increment by one and the threshold
// never drifts.
func verifyChain(steps []StepStatement, genesis, final *types.FoldedState) error {
	if len(steps) == 0 {
		return ErrEmptyProof
	}
	first := steps[0]
	if first.RootBefore.String() != genesis.Root.String() ||
		first.EpochBefore != genesis.Epoch {
		return fmt.Errorf("%w: first step starts at root %s epoch %d, genesis is root %s epoch %d",
			ErrStateMismatch, first.RootBefore, first.EpochBefore, genesis.Root, genesis.Epoch)
	}
	for i, s := range steps {
		if s.Threshold != genesis.Threshold {
			return fmt.Errorf("%w: step %d threshold %d differs from genesis threshold %d",
				ErrChainBroken, i, s.Threshold, genesis.Threshold)
		}
		if i == 0 {
			continue
		}
		prev := steps[i-1]
		if s.RootBefore.String() != prev.RootAfter.String() {
			return fmt.Errorf("%w: step %d starts at root %s, step %d produced %s",
				ErrChainBroken, i, s.RootBefore, i-1, prev.RootAfter)
		}
		if s.EpochBefore != prev.EpochBefore+1 {
			return fmt.Errorf("%w: step %d starts at epoch %d, expected %d",
				ErrChainBroken, i, s.EpochBefore, prev.EpochBefore+1)
		}
	}
	last := steps[len(steps)-1]
	if last.RootAfter.String() != final.Root.String() ||
		last.EpochBefore+1 != final.Epoch ||
		final.Threshold != genesis.Threshold {
		return fmt.Errorf("%w: chain ends at root %s epoch %d, final state is root %s epoch %d",
			ErrStateMismatch, last.RootAfter, last.EpochBefore+1, final.Root, final.Epoch)
	}
	return nil
}
