package docstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/wisbric/ragserver/pkg/retrieval"
)

// writeVectors encodes a float32 matrix as row count, dimension, then
// row-major values, mirroring the fixed-QA store's on-disk vector format.
func writeVectors(path string, rows [][]float32) error {
	dim := 0
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(rows))); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dim)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := binary.Write(buf, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	return writeAtomic(path, buf.Bytes())
}

func readVectors(path string, wantRows int) ([][]float32, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make([][]float32, wantRows), nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: reading %s: %w", path, err)
	}
	r := bytes.NewReader(raw)
	var rowCount, dim uint32
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return nil, fmt.Errorf("docstore: decoding %s header: %w", path, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("docstore: decoding %s header: %w", path, err)
	}
	rows := make([][]float32, rowCount)
	for i := range rows {
		row := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("docstore: decoding %s row %d: %w", path, i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Search implements retrieval.VectorIndex: embeds the query and returns the
// topK chunks of kbName ranked by cosine similarity.
func (s *Store) Search(ctx context.Context, kbName, text string, topK int) ([]retrieval.Chunk, error) {
	st, _, err := s.state(ctx, kbName)
	if err != nil {
		return nil, err
	}
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	type scored struct {
		chunk *Chunk
		score float64
	}
	candidates := make([]scored, 0, len(st.chunks))
	for id, chunk := range st.chunks {
		vec, ok := st.vectors[id]
		if !ok {
			continue
		}
		candidates = append(candidates, scored{chunk: chunk, score: cosineSimilarity(queryVec, vec)})
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]retrieval.Chunk, len(candidates))
	for i, c := range candidates {
		out[i] = retrieval.Chunk{DocumentID: c.chunk.DocumentID, Text: c.chunk.Text, Score: c.score}
	}
	return out, nil
}
