package folding

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/vocdoni/arbo"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/circuits/rotation"
	"github.com/lightfold/lightfold/log"
	"github.com/lightfold/lightfold/types"
	"github.com/lightfold/lightfold/util"
)

// Groth16Engine is the reference folding backend: every accumulated step is
// proven with Groth16 over BN254 and Compress emits the whole chain of
// proofs. Verification cost grows linearly with the number of steps; a
// recursive backend can replace this engine behind the same interface.
type Groth16Engine struct {
	params circuits.Params
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey

	mu     sync.Mutex
	steps  []StepStatement
	proofs []groth16.Proof
}

// NewGroth16Engine compiles the rotation circuit for the given params and
// runs the Groth16 setup. Compilation is done once; every accumulated step
// reuses the constraint system and keys.
func NewGroth16Engine(params circuits.Params) (*Groth16Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, rotation.Placeholder(params))
	if err != nil {
		return nil, fmt.Errorf("cannot compile rotation circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	log.Debugw("rotation circuit ready",
		"constraints", ccs.GetNbConstraints(),
		"took", time.Since(start).String())
	return &Groth16Engine{params: params, ccs: ccs, pk: pk, vk: vk}, nil
}

// VerifyingKey returns the verification key light clients need.
func (e *Groth16Engine) VerifyingKey() groth16.VerifyingKey { return e.vk }

// ExportArtifacts writes the compiled constraint system and the verifying
// key into dir, for distribution to verifiers.
func (e *Groth16Engine) ExportArtifacts(dir string) error {
	if err := circuits.StoreConstraintSystem(e.ccs, filepath.Join(dir, "rotation.ccs")); err != nil {
		return err
	}
	return circuits.StoreVerificationKey(e.vk, filepath.Join(dir, "rotation.vk"))
}

// Accumulate proves one rotation step and appends it to the chain. The step
// must start where the previous one ended.
func (e *Groth16Engine) Accumulate(ctx context.Context, step *rotation.StepInput) error {
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

	start := time.Now()
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return fmt.Errorf("cannot build witness: %w", err)
	}
	proof, err := groth16.Prove(e.ccs, e.pk, w)
	if err != nil {
		return fmt.Errorf("step proof failed: %w", err)
	}
	log.Debugw("rotation step proven",
		"epoch", step.EpochBefore,
		"rootAfter", util.PrettyHex(step.RootAfter.BigInt()),
		"took", time.Since(start).String())

	e.steps = append(e.steps, statementOf(step))
	e.proofs = append(e.proofs, proof)
	return nil
}

// Rollback discards the most recently accumulated step and its proof.
func (e *Groth16Engine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return ErrEmptyProof
	}
	e.steps = e.steps[:len(e.steps)-1]
	e.proofs = e.proofs[:len(e.proofs)-1]
	return nil
}

// Compress emits the accumulated chain: the public statements plus the
// serialized step proofs, in order.
func (e *Groth16Engine) Compress() (*Proof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.steps) == 0 {
		return nil, ErrEmptyProof
	}
	var buf bytes.Buffer
	for i, p := range e.proofs {
		if _, err := p.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("cannot serialize step proof %d: %w", i, err)
		}
	}
	steps := make([]StepStatement, len(e.steps))
	copy(steps, e.steps)
	return &Proof{Steps: steps, Data: buf.Bytes()}, nil
}

// Verify checks a compressed chain against the claimed genesis and final
// states: the statements must chain from one to the other and every step
// must carry a valid Groth16 proof over exactly its statement.
func (e *Groth16Engine) Verify(proof *Proof, genesis, final *types.FoldedState) error {
	if err := verifyChain(proof.Steps, genesis, final); err != nil {
		return err
	}
	r := bytes.NewReader(proof.Data)
	for i, s := range proof.Steps {
		stepProof := groth16.NewProof(ecc.BN254)
		if _, err := stepProof.ReadFrom(r); err != nil {
			return fmt.Errorf("cannot deserialize step proof %d: %w", i, err)
		}
		pubWitness, err := publicWitness(s)
		if err != nil {
			return fmt.Errorf("cannot build public witness for step %d: %w", i, err)
		}
		if err := groth16.Verify(stepProof, e.vk, pubWitness); err != nil {
			return fmt.Errorf("step %d proof does not verify: %w", i, err)
		}
	}
	if r.Len() != 0 {
		return fmt.Errorf("proof carries %d trailing bytes", r.Len())
	}
	return nil
}

// publicWitness rebuilds the public inputs of a step from its statement, so
// the statement itself is what gets verified.
func publicWitness(s StepStatement) (witness.Witness, error) {
	// roots are stored in arbo's field encoding, the same the step
	// assignment uses
	assignment := &rotation.Circuit{
		RootHashBefore:  arbo.BytesToBigInt(s.RootBefore),
		RootHashAfter:   arbo.BytesToBigInt(s.RootAfter),
		EpochBefore:     s.EpochBefore,
		QuorumThreshold: s.Threshold,
	}
	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return nil, err
	}
	return w, nil
}
