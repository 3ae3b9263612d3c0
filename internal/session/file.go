package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists each session field as its own file under a state
// directory, the closest analog to per-key browser storage. Partial records
// occur naturally (for example a crash between field writes); Load tolerates
// them per the Store contract.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("session: failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements Store.
func (fs *FileStore) Load(_ context.Context) (Session, bool, error) {
	var s Session
	fields := map[string]*string{
		FieldCustomerID:    &s.CustomerID,
		FieldCustomerName:  &s.CustomerName,
		FieldCustomerPhone: &s.CustomerPhone,
		FieldCustomerEmail: &s.CustomerEmail,
		FieldTicketID:      &s.TicketID,
	}
	for name, dst := range fields {
		v, err := fs.readField(name)
		if err != nil {
			return Session{}, false, err
		}
		*dst = v
	}
	return s, s.Valid(), nil
}

// Save implements Store. Each non-nil field is written to its own file;
// writes go through a rename so a partially written field is never observed.
func (fs *FileStore) Save(_ context.Context, u Update) error {
	fields := map[string]*string{
		FieldCustomerID:    u.CustomerID,
		FieldCustomerName:  u.CustomerName,
		FieldCustomerPhone: u.CustomerPhone,
		FieldCustomerEmail: u.CustomerEmail,
		FieldTicketID:      u.TicketID,
	}
	for name, v := range fields {
		if v == nil {
			continue
		}
		if err := fs.writeField(name, *v); err != nil {
			return err
		}
	}
	return nil
}

// Clear implements Store.
func (fs *FileStore) Clear(_ context.Context) error {
	for _, name := range []string{
		FieldCustomerID, FieldCustomerName, FieldCustomerPhone,
		FieldCustomerEmail, FieldTicketID,
	} {
		if err := os.Remove(fs.path(name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("session: failed to clear field %s: %w", name, err)
		}
	}
	return nil
}

func (fs *FileStore) path(field string) string {
	return filepath.Join(fs.dir, field)
}

func (fs *FileStore) readField(field string) (string, error) {
	data, err := os.ReadFile(fs.path(field))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: failed to read field %s: %w", field, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (fs *FileStore) writeField(field, value string) error {
	if value == "" {
		// An empty value is indistinguishable from an absent field; drop
		// the file so Load sees the same thing either way.
		if err := os.Remove(fs.path(field)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("session: failed to remove field %s: %w", field, err)
		}
		return nil
	}
	tmp := fs.path(field) + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("session: failed to write field %s: %w", field, err)
	}
	if err := os.Rename(tmp, fs.path(field)); err != nil {
		return fmt.Errorf("session: failed to commit field %s: %w", field, err)
	}
	return nil
}
