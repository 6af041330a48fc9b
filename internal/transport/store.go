package transport

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// BufferStore allocates, resolves and releases out-of-band payload buffers.
// Buffers are write-once: Allocate publishes a fully written buffer and
// readers treat its content as immutable.
type BufferStore interface {
	Allocate(data []byte) (BufferHandle, error)
	Read(h BufferHandle) ([]byte, error)
	Release(h BufferHandle) error
}

// FileStore keeps each buffer in its own uuid-named file under a single
// directory, preferring a shared-memory filesystem when the host has one.
type FileStore struct {
	dir string
}

// DefaultBufferDir returns the buffer directory used when none is
// configured: /dev/shm when mounted, the OS temp dir otherwise.
func DefaultBufferDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return filepath.Join("/dev/shm", "telltale")
	}
	return filepath.Join(os.TempDir(), "telltale")
}

// NewFileStore creates the buffer directory if needed and returns a store
// over it. An empty dir selects DefaultBufferDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultBufferDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create buffer dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory buffers are stored under.
func (s *FileStore) Dir() string {
	return s.dir
}

// Allocate writes data to a new buffer file and returns its handle.
func (s *FileStore) Allocate(data []byte) (BufferHandle, error) {
	id := uuid.NewString()
	sum := blake3.Sum256(data)

	path := filepath.Join(s.dir, id+".buf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return BufferHandle{}, fmt.Errorf("write buffer %s: %w", id, err)
	}

	return BufferHandle{
		ID:   id,
		Size: int64(len(data)),
		Sum:  hex.EncodeToString(sum[:]),
	}, nil
}

// Read resolves a handle to its payload, verifying size and checksum. A
// handle whose id is not a uuid is rejected before touching the filesystem.
func (s *FileStore) Read(h BufferHandle) ([]byte, error) {
	if _, err := uuid.Parse(h.ID); err != nil {
		return nil, fmt.Errorf("invalid buffer id %q", h.ID)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, h.ID+".buf"))
	if err != nil {
		return nil, fmt.Errorf("read buffer %s: %w", h.ID, err)
	}
	if int64(len(data)) != h.Size {
		return nil, fmt.Errorf("buffer %s: size %d does not match handle size %d", h.ID, len(data), h.Size)
	}

	sum := blake3.Sum256(data)
	if hex.EncodeToString(sum[:]) != h.Sum {
		return nil, fmt.Errorf("buffer %s: checksum mismatch", h.ID)
	}
	return data, nil
}

// Release removes a buffer file. Releasing an already-removed buffer is not
// an error.
func (s *FileStore) Release(h BufferHandle) error {
	if _, err := uuid.Parse(h.ID); err != nil {
		return fmt.Errorf("invalid buffer id %q", h.ID)
	}
	if err := os.Remove(filepath.Join(s.dir, h.ID+".buf")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release buffer %s: %w", h.ID, err)
	}
	return nil
}
