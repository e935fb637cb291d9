// Package kb manages the lifecycle of per-tenant knowledge bases: creation,
// hot switching of the process-wide "current" pointer, deletion, backup,
// and restore. Each knowledge base is a working directory on disk; the
// manager never touches document or chunk contents directly.
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/pkg/lock"
)

// Config is the mutable per-KB configuration: chunk size, overlap, and
// whether ingestion auto-updates the graph.
type Config struct {
	ChunkSize  int  `json:"chunk_size"`
	Overlap    int  `json:"overlap"`
	AutoUpdate bool `json:"auto_update"`
}

// DefaultConfig mirrors the values a freshly created KB starts with.
func DefaultConfig() Config {
	return Config{ChunkSize: 1200, Overlap: 100, AutoUpdate: true}
}

// Meta is the on-disk meta.json for one knowledge base.
type Meta struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	Config      Config    `json:"config"`
}

// Info is the public view of a knowledge base returned by list/info.
type Info struct {
	Meta
	WorkingDir string `json:"working_dir"`
}

// File and directory names making up one knowledge base's working
// directory layout. Exported so the docstore/retrieval layers that read
// and write documents, chunks, vectors, and the graph agree with the
// manager on where each lives.
const (
	FileFullDocs   = "kv_store_full_docs.json"
	FileTextChunks = "kv_store_text_chunks.json"
	FileDocStatus  = "kv_store_doc_status.json"
	FileGraph      = "graph_chunk_entity_relation.graphml"
	DirVectorCache = "vector_cache"
	fileMeta       = "meta.json"
)

// Manager owns the process-wide set of knowledge bases and the "current"
// pointer used by ambient queries that don't name a KB explicitly.
type Manager struct {
	root  string
	locks *lock.Table

	mu      sync.RWMutex
	known   map[string]*Meta
	current atomic.Pointer[string]
}

func kbDirName(root, name string) string { return filepath.Join(root, name) }

func kbLockName(name string) string { return "kb:" + name }

// NewManager opens the KB manager rooted at dir, discovering any knowledge
// bases already laid out on disk.
func NewManager(dir string, locks *lock.Table) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kb: preparing root %s: %w", dir, err)
	}
	m := &Manager{root: dir, locks: locks, known: make(map[string]*Meta)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("kb: listing root %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMeta(kbDirName(dir, e.Name()))
		if err != nil {
			continue // a directory without a complete meta.json is not a valid KB; skip it
		}
		m.known[e.Name()] = meta
	}
	return m, nil
}

func readMeta(dir string) (*Meta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, fileMeta))
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// List returns every known knowledge base, ordered by name.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.known))
	for name, meta := range m.known {
		out = append(out, Info{Meta: *meta, WorkingDir: kbDirName(m.root, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Info returns one knowledge base's metadata.
func (m *Manager) Info(name string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.known[name]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}
	return &Info{Meta: *meta, WorkingDir: kbDirName(m.root, name)}, nil
}

// Create lays out a new knowledge base's working directory under a keyed
// lock, checking for an existing KB of that name while the lock is held, so
// two concurrent creates of the same name can never race to lay out the
// directory twice. Duplicate create
// fails with already-exists.
func (m *Manager) Create(ctx context.Context, name, description, language string, cfg Config) error {
	if name == "" {
		return apperr.New(apperr.BadInput, "knowledge base name must not be empty")
	}

	h, err := m.locks.Acquire(ctx, kbLockName(name), "create")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "acquiring kb create lock", err)
	}
	defer h.Release()

	m.mu.RLock()
	_, exists := m.known[name]
	m.mu.RUnlock()
	if exists {
		return apperr.New(apperr.AlreadyExists, "knowledge base already exists: "+name)
	}

	dir := kbDirName(m.root, name)
	if err := layoutWorkingDir(dir); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "laying out kb working directory", err)
	}

	meta := &Meta{Name: name, Description: description, Language: language, CreatedAt: time.Now(), Config: cfg}
	if err := writeMeta(dir, meta); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "writing kb metadata", err)
	}

	m.mu.Lock()
	m.known[name] = meta
	m.mu.Unlock()
	return nil
}

// layoutWorkingDir creates every file a fully-initialized KB must have,
// before meta.json is written. A reader never observes a directory with
// meta.json but missing stores, because meta.json is written last.
func layoutWorkingDir(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, DirVectorCache), 0o755); err != nil {
		return err
	}
	for _, f := range []string{FileFullDocs, FileTextChunks, FileDocStatus} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("{}"), 0o644); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(dir, FileGraph), emptyGraphML(), 0o644)
}

func emptyGraphML() []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?><graphml xmlns="http://graphml.graphdrawing.org/xmlns"></graphml>`)
}

func writeMeta(dir string, meta *Meta) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fileMeta), raw, 0o644)
}

// Delete removes a knowledge base's working directory. It refuses unless
// force is set or the KB is not the current one; in-flight handles against
// a removed KB observe not-found on their next storage call because the
// directory is simply gone.
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	h, err := m.locks.Acquire(ctx, kbLockName(name), "delete")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "acquiring kb delete lock", err)
	}
	defer h.Release()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.known[name]; !ok {
		return apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}
	if cur := m.current.Load(); !force && cur != nil && *cur == name {
		return apperr.New(apperr.BadInput, "cannot delete the current knowledge base without force")
	}

	if err := os.RemoveAll(kbDirName(m.root, name)); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "removing kb working directory", err)
	}
	delete(m.known, name)
	return nil
}

// SwitchCurrent atomically updates the process-wide current-KB pointer.
// In-flight queries referencing the previous KB continue to completion
// against it: they hold a name, not a pointer to this field.
func (m *Manager) SwitchCurrent(name string) error {
	m.mu.RLock()
	_, ok := m.known[name]
	m.mu.RUnlock()
	if !ok {
		return apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}
	m.current.Store(&name)
	return nil
}

// Current returns the name of the current knowledge base, or "" if none has
// been selected yet.
func (m *Manager) Current() string {
	if cur := m.current.Load(); cur != nil {
		return *cur
	}
	return ""
}

// UpdateConfig merges a partial config into the KB's stored config.
// Language and chunk settings never alter already-stored documents; they
// only change future retrieval and generation behavior.
func (m *Manager) UpdateConfig(name string, partial Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.known[name]
	if !ok {
		return apperr.New(apperr.NotFound, "knowledge base not found: "+name)
	}
	updated := *meta
	if partial.ChunkSize > 0 {
		updated.Config.ChunkSize = partial.ChunkSize
	}
	if partial.Overlap > 0 {
		updated.Config.Overlap = partial.Overlap
	}
	updated.Config.AutoUpdate = partial.AutoUpdate

	if err := writeMeta(kbDirName(m.root, name), &updated); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "writing kb metadata", err)
	}
	m.known[name] = &updated
	return nil
}
