package folding

import (
	"context"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/circuits/rotation"
	"github.com/lightfold/lightfold/types"
)

// SolverEngine checks every accumulated step against the rotation circuit
// with the constraint solver but emits no cryptographic proof. It keeps the
// exact accept/reject behavior of the Groth16 engine at a fraction of the
// cost, for tests and for dry-running a rotation pipeline.
type SolverEngine struct {
	params circuits.Params

	mu    sync.Mutex
	steps []StepStatement
}

// NewSolverEngine returns an engine for the given circuit params.
func NewSolverEngine(params circuits.Params) (*SolverEngine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &SolverEngine{params: params}, nil
}

// Accumulate solves the rotation circuit for the step and appends its
// statement to the chain.
func (e *SolverEngine) Accumulate(ctx context.Context, step *rotation.StepInput) error {
	assignment, err := rotation.Assignment(e.params, step)
	if err != nil {
		return fmt.Errorf("cannot build step witness: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.steps); n > 0 {
		prev := e.steps[n-1]
		if prev.RootAfter.String() != step.RootBefore.String() ||
			prev.EpochBefore+1 != step.EpochBefore {
			return fmt.Errorf("%w: step starts at root %s epoch %d, chain is at root %s epoch %d",
				ErrChainBroken, step.RootBefore, step.EpochBefore, prev.RootAfter, prev.EpochBefore+1)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := test.IsSolved(rotation.Placeholder(e.params), assignment, ecc.BN254.ScalarField()); err != nil {
		return fmt.Errorf("step witness does not satisfy the rotation circuit: %w", err)
	}
	e.steps = append(e.steps, statementOf(step))
	return nil
}

// Rollback discards the most recently accumulated statement.
func (e *SolverEngine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return ErrEmptyProof
	}
	e.steps = e.steps[:len(e.steps)-1]
	return nil
}

// Compress emits the chained statements without proof material.
func (e *SolverEngine) Compress() (*Proof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return nil, ErrEmptyProof
	}
	steps := make([]StepStatement, len(e.steps))
	copy(steps, e.steps)
	return &Proof{Steps: steps}, nil
}

// Verify checks the statement chain against the claimed states. There is no
// proof material to check; only proofs this engine accumulated itself carry
// its guarantee.
func (e *SolverEngine) Verify(proof *Proof, genesis, final *types.FoldedState) error {
	return verifyChain(proof.Steps, genesis, final)
}
