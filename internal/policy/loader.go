package policy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// PolicyFile represents a loaded Rego policy file.
type PolicyFile struct {
	Path    string `json:"path"`
	Name    string `json:"name"` // base name without .rego
	Content string `json:"content"`
}

// Loader reads .rego files from a directory tree. The afero.Fs lets tests
// use an in-memory filesystem.
type Loader struct {
	fs      afero.Fs
	baseDir string
}

// NewLoader creates a policy loader rooted at baseDir.
func NewLoader(fs afero.Fs, baseDir string) *Loader {
	return &Loader{fs: fs, baseDir: baseDir}
}

// LoadAll loads every .rego file under the base directory. A missing
// directory means no extra policies.
func (l *Loader) LoadAll() ([]*PolicyFile, error) {
	if strings.TrimSpace(l.baseDir) == "" {
		return nil, nil
	}
	exists, err := afero.DirExists(l.fs, l.baseDir)
	if err != nil {
		return nil, fmt.Errorf("check policies directory: %w", err)
	}
	if !exists {
		return nil, nil
	}

	var policies []*PolicyFile
	err = afero.Walk(l.fs, l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		policy, err := l.loadFile(path)
		if err != nil {
			return fmt.Errorf("load policy %s: %w", path, err)
		}
		policies = append(policies, policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk policies directory: %w", err)
	}
	return policies, nil
}

func (l *Loader) loadFile(path string) (*PolicyFile, error) {
	file, err := l.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &PolicyFile{
		Path:    path,
		Name:    strings.TrimSuffix(filepath.Base(path), ".rego"),
		Content: string(content),
	}, nil
}
