package devcontainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jolo-cli/jolo/internal/constants"
	"github.com/jolo-cli/jolo/internal/util"
)

const manifestVersion = 1

// Manifest records the hash of every generated file as last written, so a
// later run can tell generated content from hand edits.
type Manifest struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

func newManifest() *Manifest {
	return &Manifest{Version: manifestVersion, Files: make(map[string]string)}
}

// LoadManifest reads the manifest in dir. A missing manifest yields an
// empty one and no error.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, constants.FileManifest)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newManifest(), nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m.Files == nil {
		m.Files = make(map[string]string)
	}
	return m, nil
}

// Save writes the manifest into dir.
func (m *Manifest) Save(dir string) error {
	return util.AtomicWriteJSON(filepath.Join(dir, constants.FileManifest), m)
}

// Names returns the recorded file names, sorted.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

