package qastore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// category is the in-memory, loaded form of one QACategory: the pair map,
// its aggregate embedding matrix, and a reverse index from pair id to
// matrix row. All three must stay in lockstep; mutate them only through the
// methods below while the owning store holds the category's keyed lock.
type category struct {
	name string
	dir  string

	pairs     map[string]*QAPair
	order     []string // pair id per matrix row, row i aligns with order[i]
	rowOf     map[string]int
	dimension int
}

func categoryDir(root, name string) string {
	return filepath.Join(root, name)
}

// loadCategory reads pairs.json, vectors.bin, and meta.json from dir. A
// missing directory is reported as (nil, false, nil): absent, not an error.
func loadCategory(root, name string) (*category, bool, error) {
	dir := categoryDir(root, name)
	pairsPath := filepath.Join(dir, "pairs.json")
	raw, err := os.ReadFile(pairsPath)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("qastore: reading %s: %w", pairsPath, err)
	}

	var stored map[string]*QAPair
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("qastore: decoding %s: %w", pairsPath, err)
	}

	var meta CategoryMeta
	if metaRaw, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		_ = json.Unmarshal(metaRaw, &meta)
	}

	order := make([]string, 0, len(stored))
	for id := range stored {
		order = append(order, id)
	}
	sort.Strings(order) // the same id order persist writes vectors.bin rows in

	vectors, err := readVectors(filepath.Join(dir, "vectors.bin"), len(order), meta.Dimension)
	if err != nil {
		return nil, false, err
	}
	for i, id := range order {
		if i < len(vectors) {
			stored[id].Embedding = vectors[i]
		}
	}

	rowOf := make(map[string]int, len(order))
	for i, id := range order {
		rowOf[id] = i
	}

	return &category{
		name:      name,
		dir:       dir,
		pairs:     stored,
		order:     order,
		rowOf:     rowOf,
		dimension: meta.Dimension,
	}, true, nil
}

// createCategory lays out an empty category directory and returns its
// in-memory form.
func createCategory(root, name string, dimension int) (*category, error) {
	dir := categoryDir(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("qastore: creating category dir %s: %w", dir, err)
	}
	c := &category{
		name:      name,
		dir:       dir,
		pairs:     make(map[string]*QAPair),
		order:     nil,
		rowOf:     make(map[string]int),
		dimension: dimension,
	}
	if err := c.persist(); err != nil {
		return nil, err
	}
	return c, nil
}

// append adds pair to the end of the category's pair order and matrix.
func (c *category) append(pair *QAPair) {
	c.pairs[pair.ID] = pair
	c.rowOf[pair.ID] = len(c.order)
	c.order = append(c.order, pair.ID)
	if c.dimension == 0 {
		c.dimension = len(pair.Embedding)
	}
}

// removePair removes a pair via swap-with-last on the matrix row, keeping
// order and rowOf consistent.
func (c *category) removePair(id string) bool {
	row, ok := c.rowOf[id]
	if !ok {
		return false
	}
	delete(c.pairs, id)
	delete(c.rowOf, id)

	last := len(c.order) - 1
	if row != last {
		movedID := c.order[last]
		c.order[row] = movedID
		c.rowOf[movedID] = row
	}
	c.order = c.order[:last]
	return true
}

func (c *category) averageConfidence() float64 {
	if len(c.pairs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range c.pairs {
		sum += p.Confidence
	}
	return sum / float64(len(c.pairs))
}

// persist atomically rewrites pairs.json, vectors.bin, and meta.json via
// write-to-temp then rename.
func (c *category) persist() error {
	pairsOut := make(map[string]*QAPair, len(c.pairs))
	for id, p := range c.pairs {
		cp := *p
		cp.Embedding = nil // lives in vectors.bin, not pairs.json
		pairsOut[id] = &cp
	}
	pairsJSON, err := json.Marshal(pairsOut)
	if err != nil {
		return fmt.Errorf("qastore: encoding pairs for %s: %w", c.name, err)
	}
	if err := writeAtomic(filepath.Join(c.dir, "pairs.json"), pairsJSON); err != nil {
		return err
	}

	order := make([]string, 0, len(c.pairs))
	for id := range c.pairs {
		order = append(order, id)
	}
	sort.Strings(order) // matches the id order loadCategory rebuilds on read
	c.order = order
	c.rowOf = make(map[string]int, len(order))
	for i, id := range order {
		c.rowOf[id] = i
	}

	vectors := make([][]float32, len(c.order))
	for i, id := range c.order {
		vectors[i] = c.pairs[id].Embedding
	}
	vecBytes, err := encodeVectors(vectors)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(c.dir, "vectors.bin"), vecBytes); err != nil {
		return err
	}

	meta := CategoryMeta{
		PairCount:   len(c.pairs),
		Dimension:   c.dimension,
		LastUpdated: time.Now(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("qastore: encoding meta for %s: %w", c.name, err)
	}
	return writeAtomic(filepath.Join(c.dir, "meta.json"), metaJSON)
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it into place so readers never observe a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("qastore: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("qastore: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("qastore: closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("qastore: renaming into %s: %w", path, err)
	}
	return nil
}

// encodeVectors writes a float32 matrix as a flat binary blob: row count,
// column count, then row-major float32 values.
func encodeVectors(rows [][]float32) ([]byte, error) {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(rows))); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dim)); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := binary.Write(buf, binary.LittleEndian, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// readVectors reads the flat binary blob written by encodeVectors. A
// missing file is treated as zero rows, matching a freshly created
// category. wantRows/wantDim are used only to size the result when the
// file is absent.
func readVectors(path string, wantRows, wantDim int) ([][]float32, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make([][]float32, wantRows), nil
	}
	if err != nil {
		return nil, fmt.Errorf("qastore: reading %s: %w", path, err)
	}
	r := bytes.NewReader(raw)
	var rowCount, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return nil, fmt.Errorf("qastore: decoding %s header: %w", path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("qastore: decoding %s header: %w", path, err)
	}
	rows := make([][]float32, rowCount)
	for i := range rows {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("qastore: decoding %s row %d: %w", path, i, err)
		}
		rows[i] = row
	}
	return rows, nil
}
