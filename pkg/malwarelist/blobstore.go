package malwarelist

import (
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore persists the raw cached-list bytes between restarts. It is
// intentionally narrower than the proxy's SecretStore: cache files are not
// sensitive and are looked up by a derived filename, not an opaque key.
type BlobStore interface {
	Read(name string) ([]byte, bool, error)
	Write(name string, data []byte) error
}

// FileBlobStore stores each named blob as a file under Dir.
type FileBlobStore struct {
	Dir string
}

// NewFileBlobStore ensures Dir exists and returns a FileBlobStore rooted there.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("malwarelist: create cache dir %q: %w", dir, err)
	}
	return &FileBlobStore{Dir: dir}, nil
}

func (s *FileBlobStore) Read(name string) ([]byte, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *FileBlobStore) Write(name string, data []byte) error {
	path := filepath.Join(s.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// cacheFilename derives the on-disk cache filename from a list URI by
// replacing every non-alphanumeric ASCII byte with '_', per §4.2.
func cacheFilename(uri string) string {
	out := make([]byte, len(uri))
	for i := 0; i < len(uri); i++ {
		c := uri[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
