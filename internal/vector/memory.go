package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/compliagent/internal/models"
)

// MemoryIndex is a brute-force inner product index held in memory.
type MemoryIndex struct {
	dimensions int
	entries    []Entry
	pos        map[string]int
	mu         sync.RWMutex
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{dimensions: dimensions, pos: make(map[string]int)}, nil
}

// Dimensions returns the vector size the index accepts.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }

func (m *MemoryIndex) check(entries []Entry) error {
	for _, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("entry id cannot be empty")
		}
		if len(e.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", e.ID, len(e.Vector), m.dimensions)
		}
	}
	return nil
}

// Upsert inserts entries or overwrites existing ones with the same ID.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	if err := m.check(entries); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.putLocked(e)
	}
	return nil
}

// ReplaceDocument drops the entries of documentID that are not in entries and upserts the rest.
func (m *MemoryIndex) ReplaceDocument(ctx context.Context, documentID string, entries []Entry) error {
	if err := m.check(entries); err != nil {
		return err
	}
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.DocumentID != documentID {
			return fmt.Errorf("entry %s belongs to %s, not %s", e.ID, e.DocumentID, documentID)
		}
		keep[e.ID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []string
	for _, e := range m.entries {
		if e.DocumentID == documentID && !keep[e.ID] {
			stale = append(stale, e.ID)
		}
	}
	for _, id := range stale {
		m.removeLocked(id)
	}
	for _, e := range entries {
		m.putLocked(e)
	}
	return nil
}

func (m *MemoryIndex) putLocked(e Entry) {
	vec := make([]float32, m.dimensions)
	copy(vec, e.Vector)
	e.Vector = vec
	if i, ok := m.pos[e.ID]; ok {
		m.entries[i] = e
		return
	}
	m.pos[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
}

func (m *MemoryIndex) removeLocked(id string) {
	i, ok := m.pos[id]
	if !ok {
		return
	}
	last := len(m.entries) - 1
	if i != last {
		m.entries[i] = m.entries[last]
		m.pos[m.entries[i].ID] = i
	}
	m.entries = m.entries[:last]
	delete(m.pos, id)
}

// Search returns the top-k entries matching f by inner product, best first.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int, f Filter) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	results := make([]*VectorResult, 0, len(m.entries))
	for i := range m.entries {
		e := &m.entries[i]
		if !f.match(e) {
			continue
		}
		results = append(results, &VectorResult{ID: e.ID, DocumentID: e.DocumentID, Score: InnerProduct(query, e.Vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Remove deletes entries by ID. Unknown IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.removeLocked(id)
	}
	return nil
}

// Reset drops every entry.
func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.pos = make(map[string]int)
}

// Save writes a snapshot to path, creating the directory if needed. Format: dimension (4), n (4),
// then per entry the length-prefixed id, document id, regulation id and type, followed by the vector.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	err = m.writeLocked(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write index: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *MemoryIndex) writeLocked(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dimensions)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.entries))); err != nil {
		return err
	}
	for _, e := range m.entries {
		for _, s := range []string{e.ID, e.DocumentID, e.RegulationID, string(e.Type)} {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		if _, err := w.Write(float32SliceToBytes(e.Vector)); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the contents with the snapshot at path. A missing file leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("failed to read dimensions: %w", err)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("failed to read count: %w", err)
	}
	entries := make([]Entry, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var fields [4]string
		for j := range fields {
			if fields[j], err = readString(r); err != nil {
				return fmt.Errorf("failed to read entry %d: %w", i, err)
			}
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		entries = append(entries, Entry{
			ID:           fields[0],
			DocumentID:   fields[1],
			RegulationID: fields[2],
			Type:         models.DocumentType(fields[3]),
			Vector:       bytesToFloat32Slice(buf),
		})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
	m.pos = make(map[string]int, len(entries))
	for _, e := range entries {
		m.putLocked(e)
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	out := make([]byte, len(s)*4)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Size returns the number of entries in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error {
	return nil
}
