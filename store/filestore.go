package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultStoreFile is the fallback path for the file backend.
const DefaultStoreFile = ".session-store.json"

// FileBackend persists keys as a JSON object in a single file, the local
// keyed storage for desktop/server deployments of the dashboard. Writes
// go through a temp file and an atomic rename, guarded by a cross-process
// lock file. When a key is provided the whole file is sealed with
// XChaCha20-Poly1305 (nonce prepended to the ciphertext).
type FileBackend struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

// NewFileBackend creates a file backend at path. key must be nil or a
// 32-byte encryption key.
func NewFileBackend(path string, key []byte) (*FileBackend, error) {
	b := &FileBackend{path: path}
	if len(key) > 0 {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("invalid store encryption key: %w", err)
		}
		b.aead = aead
	}
	return b, nil
}

func (b *FileBackend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

func (b *FileBackend) Set(key, value string) error {
	return b.update(func(values map[string]string) {
		values[key] = value
	})
}

func (b *FileBackend) Delete(key string) error {
	return b.update(func(values map[string]string) {
		delete(values, key)
	})
}

// update performs a locked read-modify-write cycle on the store file.
func (b *FileBackend) update(mutate func(map[string]string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, err := acquireFileLock(b.path)
	if err != nil {
		return err
	}
	defer lock.release()

	values, err := b.load()
	if err != nil {
		// A corrupt or unreadable file starts over empty rather than
		// wedging every future write.
		values = make(map[string]string)
	}
	mutate(values)

	return b.save(values)
}

func (b *FileBackend) load() (map[string]string, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]string), nil
	}

	if b.aead != nil {
		data, err = b.open(data)
		if err != nil {
			return nil, err
		}
	}

	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	return values, nil
}

func (b *FileBackend) save(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return err
	}

	if b.aead != nil {
		data = b.seal(data)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store temp file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (b *FileBackend) seal(plaintext []byte) []byte {
	nonce := make([]byte, b.aead.NonceSize())
	rand.Read(nonce)
	return b.aead.Seal(nonce, nonce, plaintext, nil)
}

func (b *FileBackend) open(sealed []byte) ([]byte, error) {
	if len(sealed) < b.aead.NonceSize() {
		return nil, fmt.Errorf("store file too short to decrypt")
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt store file: %w", err)
	}
	return plaintext, nil
}
