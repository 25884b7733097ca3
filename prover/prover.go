// Package prover drives the rotation pipeline: it owns the committee forest
// and the folded state, turns rotation requests into circuit witnesses,
// hands them to the folding engine and persists every advance. All witness
// problems are caught off-circuit first, so the expensive proving step only
// runs on inputs known to satisfy the circuit.
package prover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lightfold/lightfold/circuits"
	"github.com/lightfold/lightfold/circuits/rotation"
	"github.com/lightfold/lightfold/crypto/bls"
	"github.com/lightfold/lightfold/folding"
	"github.com/lightfold/lightfold/forest"
	"github.com/lightfold/lightfold/log"
	"github.com/lightfold/lightfold/storage"
	"github.com/lightfold/lightfold/types"
)

var (
	// ErrStaleRoot is returned when a rotation request targets an epoch the
	// committee has already moved past.
	ErrStaleRoot = errors.New("rotation request is stale")
	// ErrQuorumNotReached is returned when the signers do not hold enough
	// voting power.
	ErrQuorumNotReached = errors.New("signed weight below quorum threshold")
	// ErrMalformedCommittee is returned when a request's membership changes
	// are inconsistent with the current committee.
	ErrMalformedCommittee = errors.New("malformed committee change")
	// ErrUnsatisfiableWitness is returned when the request data cannot
	// produce a witness the circuit would accept, e.g. an invalid aggregate
	// signature.
	ErrUnsatisfiableWitness = errors.New("rotation witness would not satisfy the circuit")
	// ErrNotInitialized is returned when the prover has no genesis state.
	ErrNotInitialized = errors.New("prover has no genesis state")
)

// Prover owns the committee state and advances it one proven rotation at a
// time.
type Prover struct {
	stg    *storage.Storage
	engine folding.Engine
	params circuits.Params

	mu    sync.Mutex
	f     *forest.Forest
	state *types.FoldedState
	snap  []byte
}

// New creates a prover over the given storage and folding engine, resuming
// from the persisted forest and folded state when present.
func New(stg *storage.Storage, engine folding.Engine, params circuits.Params) (*Prover, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	p := &Prover{stg: stg, engine: engine, params: params}

	state, err := stg.FoldedState()
	switch {
	case err == nil:
		f, err := stg.Forest()
		if err != nil {
			return nil, fmt.Errorf("cannot load committee forest: %w", err)
		}
		p.state, p.f = state, f
		log.Infow("prover resumed", "epoch", state.Epoch, "root", state.Root.String())
	case errors.Is(err, storage.ErrNotFound):
		// fresh instance, Genesis must be called
	default:
		return nil, fmt.Errorf("cannot load folded state: %w", err)
	}
	return p, nil
}

// Genesis establishes the genesis committee: every validator is inserted
// into a fresh forest and the resulting aggregate root becomes the epoch
// zero folded state. The genesis state needs no signature; it is the trust
// anchor every folded proof chain is verified against.
func (p *Prover) Genesis(committee *types.Committee) (*types.FoldedState, error) {
	if err := committee.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommittee, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != nil {
		return nil, fmt.Errorf("already initialized at epoch %d", p.state.Epoch)
	}

	f, err := forest.FromCommittee(forestConfig(p.params), committee)
	if err != nil {
		return nil, err
	}
	root, err := f.Root()
	if err != nil {
		return nil, err
	}
	state := &types.FoldedState{Root: root, Epoch: 0, Threshold: committee.Threshold}

	if err := p.stg.SetGenesis(state); err != nil {
		return nil, err
	}
	if err := p.persist(f, state); err != nil {
		return nil, err
	}
	p.f, p.state = f, state
	log.Infow("genesis committee established",
		"members", f.Size(), "root", state.Root.String(), "threshold", state.Threshold)
	return state, nil
}

// State returns a copy of the current folded state.
func (p *Prover) State() (*types.FoldedState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil, ErrNotInitialized
	}
	s := *p.state
	s.Root = append(types.HexBytes{}, p.state.Root...)
	return &s, nil
}

// ApplyRotation validates a rotation request, proves the step and advances
// the folded state. On any error the committee state is left untouched.
func (p *Prover) ApplyRotation(ctx context.Context, req *storage.RotationRequest) (*types.FoldedState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil, ErrNotInitialized
	}
	if req.Epoch != p.state.Epoch {
		return nil, fmt.Errorf("%w: request targets epoch %d, committee is at %d",
			ErrStaleRoot, req.Epoch, p.state.Epoch)
	}

	step, next, err := p.buildStep(req)
	if err != nil {
		return nil, err
	}
	if err := p.engine.Accumulate(ctx, step); err != nil {
		p.rollback()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// a step that passed every pre-check and still fails to prove will
		// not prove on a retry either
		return nil, fmt.Errorf("%w: %v", ErrUnsatisfiableWitness, err)
	}
	if err := p.persist(p.f, next); err != nil {
		// the engine already holds the step; drop it so a retry does not
		// hit a chain head ahead of the persisted state
		p.rollback()
		if rerr := p.engine.Rollback(); rerr != nil {
			log.Errorw(rerr, "cannot roll back folding engine after failed persist")
		}
		return nil, err
	}
	p.state = next
	p.snap = nil
	log.Infow("rotation applied",
		"epoch", next.Epoch, "root", next.Root.String(),
		"joined", len(req.Join), "left", len(req.Leave))
	return next, nil
}

// buildStep runs every off-circuit precheck and assembles the witness input.
// It mutates p.f; callers roll back on subsequent failure.
func (p *Prover) buildStep(req *storage.RotationRequest) (*rotation.StepInput, *types.FoldedState, error) {
	signers, err := p.resolveSigners(req)
	if err != nil {
		return nil, nil, err
	}
	if len(signers) == 0 {
		return nil, nil, fmt.Errorf("%w: no signers", ErrQuorumNotReached)
	}
	if len(signers) > p.params.MaxAttesters {
		return nil, nil, fmt.Errorf("%w: %d signers exceed the circuit bound of %d",
			ErrUnsatisfiableWitness, len(signers), p.params.MaxAttesters)
	}
	if n := len(req.Join) + len(req.Leave); n == 0 || n > p.params.MaxDeltaOps {
		return nil, nil, fmt.Errorf("%w: %d membership changes, circuit fits 1..%d",
			ErrMalformedCommittee, n, p.params.MaxDeltaOps)
	}

	rootBefore, err := p.f.Root()
	if err != nil {
		return nil, nil, err
	}

	// signers must be current members with enough weight, proven against
	// the pre-rotation root
	var signedWeight uint64
	pubKeys := make([]*bls.PublicKey, len(signers))
	validators := make([]*types.Validator, len(signers))
	for i, pk := range signers {
		v, err := p.f.Member(pk)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: signer %s", err, pk)
		}
		bpk, err := bls.PublicKeyFromBytes(v.PubKey)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: signer %s: %v", ErrMalformedCommittee, pk, err)
		}
		validators[i] = v
		pubKeys[i] = bpk
		signedWeight += v.Weight
	}
	if signedWeight < p.state.Threshold {
		return nil, nil, fmt.Errorf("%w: signed weight %d, threshold %d",
			ErrQuorumNotReached, signedWeight, p.state.Threshold)
	}
	proofs, err := p.f.ProveBatch(signers)
	if err != nil {
		return nil, nil, err
	}
	for i, proof := range proofs {
		if !forest.VerifyLocally(p.f.Config(), proof, rootBefore) {
			return nil, nil, fmt.Errorf("%w: membership proof of signer %s does not verify",
				ErrUnsatisfiableWitness, signers[i])
		}
	}

	p.snapshot()
	delta, err := p.applyDelta(req)
	if err != nil {
		p.rollback()
		return nil, nil, err
	}
	rootAfter, err := p.f.Root()
	if err != nil {
		p.rollback()
		return nil, nil, err
	}

	// the aggregate signature must verify off-circuit before proving
	sig, err := bls.SignatureFromBytes(req.Signature)
	if err != nil {
		p.rollback()
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsatisfiableWitness, err)
	}
	msg, err := rotation.Message(rootAfter, req.Epoch+1)
	if err != nil {
		p.rollback()
		return nil, nil, err
	}
	aggPk, err := bls.AggregatePublicKeys(pubKeys...)
	if err != nil {
		p.rollback()
		return nil, nil, err
	}
	ok, err := bls.Verify(aggPk, msg, sig)
	if err != nil {
		p.rollback()
		return nil, nil, err
	}
	if !ok {
		p.rollback()
		return nil, nil, fmt.Errorf("%w: aggregate signature does not verify", ErrUnsatisfiableWitness)
	}
	hm, err := bls.HashToPoint(msg)
	if err != nil {
		p.rollback()
		return nil, nil, err
	}

	attesters := make([]*rotation.AttesterWitness, len(validators))
	for i := range validators {
		attesters[i] = &rotation.AttesterWitness{
			Validator: validators[i],
			Proof:     proofs[i],
			Signed:    true,
		}
	}
	step := &rotation.StepInput{
		RootBefore:   rootBefore,
		RootAfter:    rootAfter,
		EpochBefore:  req.Epoch,
		Threshold:    p.state.Threshold,
		Attesters:    attesters,
		Delta:        delta,
		Signature:    sig,
		MessagePoint: hm,
	}
	next := &types.FoldedState{
		Root:      rootAfter,
		Epoch:     req.Epoch + 1,
		Threshold: p.state.Threshold,
	}
	return step, next, nil
}

// resolveSigners returns the signer public keys of a request, expanding the
// signer bitmap against the current members in forest order when the request
// carries no explicit key list.
func (p *Prover) resolveSigners(req *storage.RotationRequest) ([]types.HexBytes, error) {
	if len(req.Signers) > 0 {
		return req.Signers, nil
	}
	if len(req.SignerBitmap) == 0 {
		return nil, nil
	}
	selected, err := req.SignerBitmap.Select(p.f.Members())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCommittee, err)
	}
	signers := make([]types.HexBytes, len(selected))
	for i, v := range selected {
		signers[i] = v.PubKey
	}
	return signers, nil
}

// applyDelta performs the membership changes on the forest, removals first so
// freed slots are available to joiners.
func (p *Prover) applyDelta(req *storage.RotationRequest) ([]*forest.Transition, error) {
	var delta []*forest.Transition
	for _, pk := range req.Leave {
		tr, err := p.f.Remove(pk)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot remove %s: %v", ErrMalformedCommittee, pk, err)
		}
		delta = append(delta, tr)
	}
	for i := range req.Join {
		tr, err := p.f.Insert(&req.Join[i])
		if err != nil {
			if errors.Is(err, forest.ErrCapacityExhausted) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: cannot insert %s: %v", ErrMalformedCommittee, req.Join[i].PubKey, err)
		}
		delta = append(delta, tr)
	}
	return delta, nil
}

// Compress emits the folded proof of every rotation accumulated so far and
// stores it under the current epoch.
func (p *Prover) Compress() (*folding.Proof, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil, ErrNotInitialized
	}
	proof, err := p.engine.Compress()
	if err != nil {
		return nil, err
	}
	if err := p.stg.SetProof(p.state.Epoch, proof); err != nil {
		return nil, err
	}
	return proof, nil
}

// VerifyChain checks a folded proof against a genesis and final state.
func (p *Prover) VerifyChain(proof *folding.Proof, genesis, final *types.FoldedState) error {
	return p.engine.Verify(proof, genesis, final)
}

func (p *Prover) persist(f *forest.Forest, state *types.FoldedState) error {
	if err := p.stg.SetForest(f); err != nil {
		return err
	}
	return p.stg.SetFoldedState(state)
}

// forest snapshot/rollback around a mutating request
func (p *Prover) snapshot() {
	data, err := json.Marshal(p.f)
	if err != nil {
		panic(fmt.Sprintf("cannot snapshot forest: %v", err))
	}
	p.snap = data
}

func (p *Prover) rollback() {
	if p.snap == nil {
		return
	}
	restored := &forest.Forest{}
	if err := json.Unmarshal(p.snap, restored); err != nil {
		panic(fmt.Sprintf("cannot restore forest snapshot: %v", err))
	}
	p.f = restored
	p.snap = nil
}

func forestConfig(params circuits.Params) forest.Config {
	return forest.Config{
		LeafCapacity: params.LeafCapacity,
		MaxLevels:    params.MaxLevels,
	}
}
