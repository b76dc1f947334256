package fs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"retrace/internal/domain"
)

// DirSource enumerates capture text files in a flat source directory.
// Listing is lexicographic by path so reconciliation work resumes in a
// stable order after a restart.
type DirSource struct {
	dir       string
	extension string
	includes  []string
	excludes  []string
}

// NewDirSource creates a source over dir. Files must carry the given
// extension and match one of the include patterns without matching an
// exclude pattern.
func NewDirSource(dir, extension string, includes, excludes []string) *DirSource {
	if len(includes) == 0 {
		includes = []string{"*"}
	}
	return &DirSource{
		dir:       dir,
		extension: extension,
		includes:  includes,
		excludes:  excludes,
	}
}

// List returns all candidate documents, sorted lexicographically by path.
// A missing or empty source directory yields an empty list.
func (s *DirSource) List() ([]domain.Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var docs []domain.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if s.extension != "" && !strings.HasSuffix(name, s.extension) {
			continue
		}
		if !s.matches(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		docs = append(docs, domain.Document{
			Path:    filepath.Join(s.dir, name),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Path < docs[j].Path
	})
	return docs, nil
}

// Read returns the UTF-8 content of one document.
func (s *DirSource) Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *DirSource) matches(name string) bool {
	included := false
	for _, pattern := range s.includes {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, pattern := range s.excludes {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return false
		}
	}
	return true
}
