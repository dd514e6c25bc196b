package storage

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Uploads persists uploaded files under a base directory. Each upload gets a
// uuid-keyed name so concurrent uploads of the same filename never collide.
type Uploads struct {
	dir string
}

// NewUploads creates the upload directory if needed.
func NewUploads(dir string) (*Uploads, error) {
	if dir == "" {
		return nil, eris.New("storage: empty upload dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "storage: create upload dir %s", dir)
	}
	return &Uploads{dir: dir}, nil
}

// Save writes r to a new uuid-keyed file and returns its path. The original
// filename only contributes its extension.
func (u *Uploads) Save(r io.Reader, origName string) (string, error) {
	name := uuid.New().String() + filepath.Ext(origName)
	path := filepath.Join(u.dir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "storage: create upload %s", path)
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()       //nolint:errcheck
		os.Remove(path)    //nolint:errcheck
		return "", eris.Wrap(err, "storage: write upload")
	}
	if err := file.Close(); err != nil {
		os.Remove(path) //nolint:errcheck
		return "", eris.Wrap(err, "storage: close upload")
	}
	return path, nil
}
