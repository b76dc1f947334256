// Package index implements the persisted semantic index: a flat vector
// index plus the parallel identifier map recording which document produced
// each vector slot.
package index

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

const (
	fileMagic   uint32 = 0x52545243 // "RTRC"
	fileVersion uint32 = 1
)

// ErrNoIndex is returned by Open when neither artifact exists yet, the
// normal first-run condition.
var ErrNoIndex = errors.New("no index artifacts found")

// Hit is one nearest-neighbor match: the vector's ordinal and its raw
// inner-product score, passed through unmodified.
type Hit struct {
	Ordinal int
	Score   float64
}

// Store is the flat vector index and its identifier map. Position i in the
// map corresponds to vector ordinal i; the two are persisted as a pair and
// len(ids) == len(vectors) holds at every commit. The incremental indexer
// exclusively owns writes; query paths only read.
type Store struct {
	dimension int
	vectors   [][]float32
	ids       []string

	indexPath string
	mapPath   string
}

// New creates an empty store for the given dimension and artifact paths.
func New(dimension int, indexPath, mapPath string) *Store {
	return &Store{
		dimension: dimension,
		indexPath: indexPath,
		mapPath:   mapPath,
	}
}

// Open loads the persisted pair from disk. If either artifact is missing,
// unreadable, or the size invariant does not hold, the pair is discarded
// and an empty store is returned along with the load error so the caller
// can log the condition. A corrupt pair is never partially trusted.
func Open(dimension int, indexPath, mapPath string) (*Store, error) {
	s := New(dimension, indexPath, mapPath)

	if !fileExists(indexPath) && !fileExists(mapPath) {
		return s, ErrNoIndex
	}

	vectors, dim, err := readVectors(indexPath)
	if err != nil {
		return s, err
	}
	if dim != dimension {
		return s, fmt.Errorf("vector index dimension %d does not match configured %d", dim, dimension)
	}

	ids, err := readIdentifierMap(mapPath)
	if err != nil {
		return s, err
	}

	if len(ids) != len(vectors) {
		return s, fmt.Errorf("identifier map length %d does not match vector count %d", len(ids), len(vectors))
	}

	s.vectors = vectors
	s.ids = ids
	return s, nil
}

// Size returns the number of vectors in the index.
func (s *Store) Size() int {
	return len(s.vectors)
}

// Dimension returns the fixed vector dimension.
func (s *Store) Dimension() int {
	return s.dimension
}

// Contains reports whether a document key is present in the identifier map.
func (s *Store) Contains(key string) bool {
	for _, id := range s.ids {
		if id == key {
			return true
		}
	}
	return false
}

// Keys returns the identifier map as a set for reconciliation.
func (s *Store) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s.ids))
	for _, id := range s.ids {
		keys[id] = struct{}{}
	}
	return keys
}

// Resolve maps an ordinal back to its document key. Sentinel or
// out-of-range ordinals resolve to ("", false).
func (s *Store) Resolve(ordinal int) (string, bool) {
	if ordinal < 0 || ordinal >= len(s.ids) {
		return "", false
	}
	return s.ids[ordinal], true
}

// Append adds vectors and their document keys, assigning ordinals
// monotonically from the current size. Ordinals are never reused.
func (s *Store) Append(vectors [][]float32, keys []string) error {
	if len(vectors) != len(keys) {
		return fmt.Errorf("vector count %d does not match key count %d", len(vectors), len(keys))
	}
	for _, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(v))
		}
	}
	s.vectors = append(s.vectors, vectors...)
	s.ids = append(s.ids, keys...)
	return nil
}

// Search finds the k nearest vectors to the query by inner product,
// highest score first. An empty index yields no hits.
func (s *Store) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(query))
	}
	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}

	hits := make([]Hit, 0, len(s.vectors))
	for i, v := range s.vectors {
		hits = append(hits, Hit{Ordinal: i, Score: innerProduct(query, v)})
	}

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Save persists both artifacts, vector index first, identifier map second.
// Each file is written to a temp path and renamed into place so readers
// never observe a torn artifact. If the index write fails the map is not
// touched and the on-disk pair stays at the previous commit.
func (s *Store) Save() error {
	if err := s.writeVectors(); err != nil {
		return fmt.Errorf("failed to write vector index: %w", err)
	}
	if err := s.writeIdentifierMap(); err != nil {
		return fmt.Errorf("failed to write identifier map: %w", err)
	}
	return nil
}

// RemoveArtifacts deletes the persisted pair, forcing a rebuild from
// scratch on the next cycle. Missing files are not an error.
func RemoveArtifacts(indexPath, mapPath string) error {
	for _, path := range []string{indexPath, mapPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *Store) writeVectors() error {
	tmp := s.indexPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := writeVectorData(f, s.dimension, s.vectors); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func (s *Store) writeIdentifierMap() error {
	data, err := json.Marshal(s.ids)
	if err != nil {
		return err
	}
	tmp := s.mapPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.mapPath)
}

func writeVectorData(w io.Writer, dimension int, vectors [][]float32) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}

	header := []uint32{fileMagic, fileVersion, uint32(dimension), uint32(len(vectors))}
	for _, v := range header {
		if err := binary.Write(zw, binary.LittleEndian, v); err != nil {
			zw.Close()
			return err
		}
	}
	for _, vec := range vectors {
		if err := binary.Write(zw, binary.LittleEndian, vec); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func readVectors(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, 0, err
	}
	defer zr.Close()

	var magic, version, dim, count uint32
	for _, p := range []*uint32{&magic, &version, &dim, &count} {
		if err := binary.Read(zr, binary.LittleEndian, p); err != nil {
			return nil, 0, fmt.Errorf("failed to read vector index header: %w", err)
		}
	}
	if magic != fileMagic {
		return nil, 0, fmt.Errorf("bad vector index magic %#x", magic)
	}
	if version != fileVersion {
		return nil, 0, fmt.Errorf("unsupported vector index version %d", version)
	}

	vectors := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(zr, binary.LittleEndian, vec); err != nil {
			return nil, 0, fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, int(dim), nil
}

func readIdentifierMap(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse identifier map: %w", err)
	}
	return ids, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func innerProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
