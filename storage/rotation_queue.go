package storage

import (
	"errors"
	"fmt"

	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

// PushRotation stores a new rotation request into the pending queue.
func (s *Storage) PushRotation(r *RotationRequest) error {
	val, err := encodeArtifact(r)
	if err != nil {
		return fmt.Errorf("encode rotation request: %w", err)
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), rotationPrefix)
	key := hashKey(val)
	if err := wTx.Set(key, val); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// NextRotation returns the next non-reserved rotation request, creates a
// reservation, and returns it along with its key. If no requests are
// available it returns ErrNoMoreElements. The key is used to mark the
// request done or failed after processing.
func (s *Storage) NextRotation() (*RotationRequest, []byte, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	pr := prefixeddb.NewPrefixedReader(s.db, rotationPrefix)
	var chosenKey, chosenVal []byte
	if err := pr.Iterate(nil, func(k, v []byte) bool {
		if s.isReserved(rotationResvPrefix, k) {
			return true
		}
		chosenKey = append([]byte{}, k...)
		chosenVal = append([]byte{}, v...)
		return false
	}); err != nil {
		return nil, nil, fmt.Errorf("iterate rotation requests: %w", err)
	}
	if chosenVal == nil {
		return nil, nil, ErrNoMoreElements
	}

	var r RotationRequest
	if err := decodeArtifact(chosenVal, &r); err != nil {
		return nil, nil, fmt.Errorf("decode rotation request: %w", err)
	}
	if err := s.setReservation(rotationResvPrefix, chosenKey); err != nil {
		return nil, nil, ErrNoMoreElements
	}
	return &r, chosenKey, nil
}

// MarkRotationDone removes a processed rotation request and its reservation.
func (s *Storage) MarkRotationDone(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.deleteArtifact(rotationResvPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete rotation reservation: %w", err)
	}
	if err := s.deleteArtifact(rotationPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete rotation request: %w", err)
	}
	return nil
}

// MarkRotationFailed releases the reservation of a request so it can be
// picked up again, for failures worth retrying.
func (s *Storage) MarkRotationFailed(k []byte) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	if err := s.deleteArtifact(rotationResvPrefix, k); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete rotation reservation: %w", err)
	}
	return nil
}

func (s *Storage) isReserved(prefix, key []byte) bool {
	rd := prefixeddb.NewPrefixedReader(s.db, prefix)
	_, err := rd.Get(key)
	return err == nil
}

func (s *Storage) setReservation(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, []byte{1}); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

func (s *Storage) deleteArtifact(prefix, key []byte) error {
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Delete(key); err != nil {
		wTx.Discard()
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return wTx.Commit()
}
