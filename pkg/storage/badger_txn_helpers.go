package storage

import "github.com/dgraph-io/badger/v4"

func (s *GridStore) withView(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return s.db.View(fn)
}

func (s *GridStore) withUpdate(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	return s.db.Update(fn)
}
