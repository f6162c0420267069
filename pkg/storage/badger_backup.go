package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// Backup streams a full, consistent copy of the store to w.
func (s *GridStore) Backup(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStorageClosed
	}

	buf := bufio.NewWriterSize(w, 1<<20)
	// since=0 means full backup
	if _, err := s.db.Backup(buf, 0); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush backup: %w", err)
	}
	return nil
}

// BackupFile writes a backup to path and syncs it to disk.
func (s *GridStore) BackupFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if err := s.Backup(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync backup: %w", err)
	}
	return nil
}

// LoadBackup merges a backup produced by Backup into the store.
func (s *GridStore) LoadBackup(r io.Reader) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStorageClosed
	}
	if err := s.db.Load(bufio.NewReaderSize(r, 1<<20), 16); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}
