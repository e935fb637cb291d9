package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/pkg/kb"
	"github.com/wisbric/ragserver/pkg/lock"
	"github.com/wisbric/ragserver/pkg/qastore"
)

// Store ingests documents into a knowledge base's working directory,
// chunking and embedding them, and keeps the vector cache and knowledge
// graph up to date.
type Store struct {
	manager  *kb.Manager
	embedder qastore.Embedder
	locks    *lock.Table

	mu     sync.Mutex
	loaded map[string]*kvState // keyed by kb name
}

func docLockName(kbName string) string { return "docstore:" + kbName }

// New builds a Store bound to manager for KB working directories.
func New(manager *kb.Manager, embedder qastore.Embedder, locks *lock.Table) *Store {
	return &Store{manager: manager, embedder: embedder, locks: locks, loaded: make(map[string]*kvState)}
}

// kvState is the in-memory mirror of one KB's kv_store_* files plus its
// vector cache. Mutate only while holding the KB's keyed lock.
type kvState struct {
	docs       map[string]*Document
	chunks     map[string]*Chunk
	chunkOrder []string // chunk id per vector row
	vectors    map[string][]float32
}

func (s *Store) state(ctx context.Context, kbName string) (*kvState, *kb.Info, error) {
	info, err := s.manager.Info(kbName)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.loaded[kbName]; ok {
		return st, info, nil
	}

	st, err := loadState(info.WorkingDir)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.StorageFailure, "loading knowledge base state", err)
	}
	s.loaded[kbName] = st
	return st, info, nil
}

func loadState(dir string) (*kvState, error) {
	docs, err := readJSONMap[Document](filepath.Join(dir, kb.FileFullDocs))
	if err != nil {
		return nil, err
	}
	chunks, err := readJSONMap[Chunk](filepath.Join(dir, kb.FileTextChunks))
	if err != nil {
		return nil, err
	}

	order := make([]string, 0, len(chunks))
	for id := range chunks {
		order = append(order, id)
	}
	sort.Strings(order)

	vecPath := filepath.Join(dir, kb.DirVectorCache, "chunks.bin")
	rows, err := readVectors(vecPath, len(order))
	if err != nil {
		return nil, err
	}
	vectors := make(map[string][]float32, len(order))
	for i, id := range order {
		if i < len(rows) {
			vectors[id] = rows[i]
		}
	}

	return &kvState{docs: docs, chunks: chunks, chunkOrder: order, vectors: vectors}, nil
}

func (s *Store) persist(dir string, st *kvState) error {
	if err := writeJSONMap(filepath.Join(dir, kb.FileFullDocs), st.docs); err != nil {
		return err
	}
	if err := writeJSONMap(filepath.Join(dir, kb.FileTextChunks), st.chunks); err != nil {
		return err
	}

	order := make([]string, 0, len(st.chunks))
	for id := range st.chunks {
		order = append(order, id)
	}
	sort.Strings(order)
	st.chunkOrder = order

	rows := make([][]float32, len(order))
	for i, id := range order {
		rows[i] = st.vectors[id]
	}
	if err := writeVectors(filepath.Join(dir, kb.DirVectorCache, "chunks.bin"), rows); err != nil {
		return err
	}

	statusOut := make(map[string]Status, len(st.docs))
	for id, d := range st.docs {
		statusOut[id] = d.Status
	}
	return writeJSONMap(filepath.Join(dir, kb.FileDocStatus), statusOut)
}

// InsertText chunks, embeds, and persists one document's text into kbName.
func (s *Store) InsertText(ctx context.Context, kbName, text, source, language string, chunkSize, overlap int) (*InsertResult, error) {
	h, err := s.locks.Acquire(ctx, docLockName(kbName), "insert")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "acquiring kb document lock", err)
	}
	defer h.Release()

	st, info, err := s.state(ctx, kbName)
	if err != nil {
		return nil, err
	}
	dir := info.WorkingDir

	doc := &Document{
		ID:        uuid.NewString(),
		Content:   text,
		Source:    source,
		Language:  language,
		Status:    StatusProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	st.docs[doc.ID] = doc

	pieces := splitText(text, chunkSize, overlap)
	for i, piece := range pieces {
		vec, err := s.embedder.Embed(ctx, piece)
		if err != nil {
			doc.Status = StatusFailed
			doc.Error = err.Error()
			doc.UpdatedAt = time.Now()
			if perr := s.persist(dir, st); perr != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, "persisting failed ingest", perr)
			}
			return &InsertResult{DocumentID: doc.ID, Status: StatusFailed, Error: err.Error()}, nil
		}

		chunk := &Chunk{ID: uuid.NewString(), DocumentID: doc.ID, Text: piece, Index: i}
		st.chunks[chunk.ID] = chunk
		st.vectors[chunk.ID] = vec
		doc.ChunkIDs = append(doc.ChunkIDs, chunk.ID)
	}

	doc.Status = StatusProcessed
	doc.UpdatedAt = time.Now()

	if err := s.persist(dir, st); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "persisting ingested document", err)
	}

	if info.Config.AutoUpdate {
		if err := mergeGraphLocked(dir, text); err != nil {
			return nil, err
		}
	}

	return &InsertResult{DocumentID: doc.ID, ChunkCount: len(pieces), Status: StatusProcessed}, nil
}

// InsertTexts inserts many texts into the same knowledge base. Each text is
// ingested independently: one failing does not affect the others, matching
// the partial-failure semantics used elsewhere in ingest.
func (s *Store) InsertTexts(ctx context.Context, kbName string, texts []string, source, language string, chunkSize, overlap int) []*InsertResult {
	results := make([]*InsertResult, len(texts))
	for i, t := range texts {
		r, err := s.InsertText(ctx, kbName, t, source, language, chunkSize, overlap)
		if err != nil {
			results[i] = &InsertResult{Status: StatusFailed, Error: err.Error()}
			continue
		}
		results[i] = r
	}
	return results
}

// DocumentStatus looks up one document's current ingestion status.
func (s *Store) DocumentStatus(ctx context.Context, kbName, docID string) (*Document, error) {
	st, _, err := s.state(ctx, kbName)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := st.docs[docID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "document not found: "+docID)
	}
	return d, nil
}

func readJSONMap[T any](path string) (map[string]*T, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]*T), nil
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: reading %s: %w", path, err)
	}
	out := make(map[string]*T)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("docstore: decoding %s: %w", path, err)
		}
	}
	return out, nil
}

func writeJSONMap[T any](path string, m map[string]T) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encoding %s: %w", path, err)
	}
	return writeAtomic(path, raw)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("docstore: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("docstore: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("docstore: closing %s: %w", path, err)
	}
	return os.Rename(tmpName, path)
}
