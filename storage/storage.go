// Package storage persists the artifacts of the rotation pipeline and queues
// the pending work between its stages. It is a prefixed key-value store over
// a dvote database; the following prefixes are used:
//   - 'g/' for the genesis folded state
//   - 's/' for the current folded state
//   - 'f/' for the committee forest snapshot
//   - 'p/' for compressed folded proofs, keyed by final epoch
//   - 'r/' for pending rotation requests (queued)
//   - 'rr/' for rotation request reservations
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/lightfold/lightfold/folding"
	"github.com/lightfold/lightfold/forest"
	"github.com/lightfold/lightfold/types"
)

var (
	genesisPrefix      = []byte("g/")
	statePrefix        = []byte("s/")
	forestPrefix       = []byte("f/")
	proofPrefix        = []byte("p/")
	rotationPrefix     = []byte("r/")
	rotationResvPrefix = []byte("rr/")

	// singleton artifacts live under a fixed key inside their prefix
	currentKey = []byte("current")
)

var (
	// ErrNotFound is returned when the requested artifact is not stored.
	ErrNotFound = errors.New("artifact not found")
	// ErrNoMoreElements is returned when a queue has no available element.
	ErrNoMoreElements = errors.New("no more elements")
)

const (
	// maxKeySize is the size of queue keys, a truncated hash of the
	// artifact itself.
	maxKeySize = 12
)

// Storage wraps the database with typed accessors for the rotation pipeline.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	s.db.Close()
}

// SetGenesis stores the genesis folded state. It is written once; a second
// call with a different state fails.
func (s *Storage) SetGenesis(state *types.FoldedState) error {
	prev, err := s.Genesis()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prev != nil && !prev.Equal(state) {
		return fmt.Errorf("genesis is already set to root %s epoch %d", prev.Root, prev.Epoch)
	}
	return s.setArtifact(genesisPrefix, currentKey, state)
}

// Genesis loads the genesis folded state.
func (s *Storage) Genesis() (*types.FoldedState, error) {
	state := &types.FoldedState{}
	if err := s.getArtifact(genesisPrefix, currentKey, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetFoldedState stores the current folded state.
func (s *Storage) SetFoldedState(state *types.FoldedState) error {
	return s.setArtifact(statePrefix, currentKey, state)
}

// FoldedState loads the current folded state.
func (s *Storage) FoldedState() (*types.FoldedState, error) {
	state := &types.FoldedState{}
	if err := s.getArtifact(statePrefix, currentKey, state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetForest stores a snapshot of the committee forest. The snapshot holds
// members and slots only; hashes are recomputed on load.
func (s *Storage) SetForest(f *forest.Forest) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode forest snapshot: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), forestPrefix)
	if err := wTx.Set(currentKey, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// Forest loads the committee forest from its snapshot.
func (s *Storage) Forest() (*forest.Forest, error) {
	rd := prefixeddb.NewPrefixedReader(s.db, forestPrefix)
	data, err := rd.Get(currentKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f := &forest.Forest{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode forest snapshot: %w", err)
	}
	return f, nil
}

// SetProof stores a compressed folded proof under its final epoch.
func (s *Storage) SetProof(finalEpoch uint64, proof *folding.Proof) error {
	return s.setArtifact(proofPrefix, epochKey(finalEpoch), proof)
}

// Proof loads the folded proof stored for the given final epoch.
func (s *Storage) Proof(finalEpoch uint64) (*folding.Proof, error) {
	proof := &folding.Proof{}
	if err := s.getArtifact(proofPrefix, epochKey(finalEpoch), proof); err != nil {
		return nil, err
	}
	return proof, nil
}

func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := rd.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}
