package store

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONPersister stores each key as a JSON file in a data directory:
// conversations.json, selected_conversation.json and schema_version.json.
type JSONPersister struct {
	dir string

	mu      sync.Mutex
	written map[string][2][sha256.Size]byte // Digests of the two latest saves per key, newest first
}

// NewJSONPersister creates the data directory if needed.
func NewJSONPersister(dir string) (*JSONPersister, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &JSONPersister{dir: dir, written: make(map[string][2][sha256.Size]byte)}, nil
}

// Dir returns the data directory.
func (p *JSONPersister) Dir() string {
	return p.dir
}

// FileName returns the file that holds a key.
func FileName(key string) string {
	return key + ".json"
}

// Path returns the full path of the file holding a key.
func (p *JSONPersister) Path(key string) string {
	return filepath.Join(p.dir, FileName(key))
}

// Load implements Persister.
func (p *JSONPersister) Load() (State, error) {
	values := make(map[string][]byte)
	for _, key := range []string{SchemaVersionKey, ConversationsKey, SelectedKey} {
		data, err := os.ReadFile(p.Path(key))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return State{}, fmt.Errorf("failed to read %s: %w", FileName(key), err)
		}
		values[key] = data
	}
	return decodeState(values)
}

// Save implements Persister. The collection is written before the selection
// so a reader never sees a selected id for a collection that is not on disk.
func (p *JSONPersister) Save(state State) error {
	values, err := encodeState(state)
	if err != nil {
		return err
	}
	for _, key := range []string{SchemaVersionKey, ConversationsKey, SelectedKey} {
		// Recorded before the write so the resulting event already matches.
		p.mu.Lock()
		recent := p.written[key]
		p.written[key] = [2][sha256.Size]byte{sha256.Sum256(values[key]), recent[0]}
		p.mu.Unlock()
		if err := writeFileAtomic(p.Path(key), values[key]); err != nil {
			return fmt.Errorf("failed to write %s: %w", FileName(key), err)
		}
	}
	return nil
}

// OwnsContent reports whether the file holding key has content this persister
// saved there itself (the latest save, or the one before while a newer write is
// still in flight). The watcher uses it to ignore events caused by our own saves.
func (p *JSONPersister) OwnsContent(key string) bool {
	p.mu.Lock()
	recent, ok := p.written[key]
	p.mu.Unlock()
	if !ok {
		return false
	}

	data, err := os.ReadFile(p.Path(key))
	if err != nil {
		return false
	}
	sum := sha256.Sum256(data)
	return sum == recent[0] || (recent[1] != [sha256.Size]byte{} && sum == recent[1])
}

// Close implements Persister.
func (p *JSONPersister) Close() error {
	return nil
}

// writeFileAtomic writes data to a temporary file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) // No-op after a successful rename
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
