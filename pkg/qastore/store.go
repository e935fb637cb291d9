package qastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/internal/telemetry"
	"github.com/wisbric/ragserver/pkg/lock"
)

// globalCreateLockName is the single fixed lock name used exclusively for
// the "create category storage" critical section, so two concurrent
// writers to a never-seen category can never produce two storage objects.
const globalCreateLockName = "qa:global-category-create"

func categoryLockName(name string) string { return "qa-category:" + name }

// Store is the root of the fixed-QA subsystem: one directory on disk,
// partitioned into categories, each independently lockable.
type Store struct {
	root     string
	embedder Embedder
	locks    *lock.Table

	mu       sync.RWMutex
	loaded   map[string]*category
	known    map[string]bool // root index.json contents
}

// New opens (or lazily prepares) a QA store rooted at dir.
func New(dir string, embedder Embedder, locks *lock.Table) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("qastore: preparing root %s: %w", dir, err)
	}
	known, err := readIndex(dir)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:     dir,
		embedder: embedder,
		locks:    locks,
		loaded:   make(map[string]*category),
		known:    known,
	}, nil
}

func readIndex(dir string) (map[string]bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if os.IsNotExist(err) {
		return make(map[string]bool), nil
	}
	if err != nil {
		return nil, fmt.Errorf("qastore: reading index.json: %w", err)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, fmt.Errorf("qastore: decoding index.json: %w", err)
	}
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	return known, nil
}

// writeIndexLocked persists s.known. Callers must hold s.mu.
func (s *Store) writeIndexLocked() error {
	names := make([]string, 0, len(s.known))
	for n := range s.known {
		names = append(names, n)
	}
	sort.Strings(names)
	raw, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("qastore: encoding index.json: %w", err)
	}
	return writeAtomic(filepath.Join(s.root, "index.json"), raw)
}

// getOrCreateCategory implements the double-checked init pattern over the
// global create lock: check unlocked, acquire, recheck, create, publish.
func (s *Store) getOrCreateCategory(ctx context.Context, name string) (*category, error) {
	s.mu.RLock()
	if c, ok := s.loaded[name]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	h, err := s.locks.Acquire(ctx, globalCreateLockName, "create-category")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "acquiring category-create lock", err)
	}
	defer h.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.loaded[name]; ok {
		return c, nil
	}

	c, found, err := loadCategory(s.root, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "loading category "+name, err)
	}
	if !found {
		c, err = createCategory(s.root, name, s.embedder.Dimension())
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, "creating category "+name, err)
		}
	}
	s.loaded[name] = c
	s.known[name] = true
	if err := s.writeIndexLocked(); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "writing category index", err)
	}
	return c, nil
}

// loadedCategoryNames lists every currently-known category name, loaded or
// not, in lexicographic order.
func (s *Store) loadedCategoryNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.known))
	for n := range s.known {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Add embeds pair.Question and appends it to its category's storage,
// creating the category if this is its first write.
func (s *Store) Add(ctx context.Context, pair QAPair) (string, error) {
	if pair.Question == "" {
		return "", apperr.New(apperr.BadInput, "question must not be empty")
	}
	if pair.Confidence < 0 || pair.Confidence > 1 {
		return "", apperr.New(apperr.BadInput, "confidence must be within [0, 1]")
	}
	if pair.Category == "" {
		return "", apperr.New(apperr.BadInput, "category must not be empty")
	}

	vec, err := s.embedder.Embed(ctx, pair.Question)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamFailure, "embedding question", err)
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(pair.Category), "write")
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "acquiring category lock", err)
	}
	defer h.Release()

	c, err := s.getOrCreateCategory(ctx, pair.Category)
	if err != nil {
		return "", err
	}

	if pair.ID == "" {
		pair.ID = uuid.NewString()
	}
	now := time.Now()
	pair.CreatedAt = now
	pair.UpdatedAt = now
	pair.Embedding = vec
	c.append(&pair)

	if err := c.persist(); err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, "persisting category "+pair.Category, err)
	}
	return pair.ID, nil
}

// AddBatch groups pairs by category, acquires a multi-lock over every
// involved category in lex order, then appends each pair. Failures do not
// roll back prior successes within the batch.
func (s *Store) AddBatch(ctx context.Context, pairs []QAPair) (*BatchResult, error) {
	byCategory := make(map[string][]int)
	for i, p := range pairs {
		byCategory[p.Category] = append(byCategory[p.Category], i)
	}
	names := make([]string, 0, len(byCategory))
	for n := range byCategory {
		names = append(names, categoryLockName(n))
	}

	h, err := s.locks.AcquireMany(ctx, names, "batch-write")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "acquiring batch locks", err)
	}
	defer h.Release()

	result := &BatchResult{}
	for category, indices := range byCategory {
		c, err := s.getOrCreateCategory(ctx, category)
		if err != nil {
			for _, idx := range indices {
				result.Failed = append(result.Failed, BatchFailure{Index: idx, Error: err.Error()})
			}
			continue
		}

		dirty := false
		for _, idx := range indices {
			p := pairs[idx]
			if p.Question == "" || p.Confidence < 0 || p.Confidence > 1 {
				result.Failed = append(result.Failed, BatchFailure{Index: idx, Error: "invalid pair"})
				continue
			}
			vec, err := s.embedder.Embed(ctx, p.Question)
			if err != nil {
				result.Failed = append(result.Failed, BatchFailure{Index: idx, Error: err.Error()})
				continue
			}
			if p.ID == "" {
				p.ID = uuid.NewString()
			}
			now := time.Now()
			p.CreatedAt, p.UpdatedAt, p.Embedding = now, now, vec
			c.append(&p)
			result.Succeeded = append(result.Succeeded, p.ID)
			dirty = true
		}
		if dirty {
			if err := c.persist(); err != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, "persisting category "+category, err)
			}
		}
	}
	return result, nil
}

// Delete removes one pair by id from the named category, loading the
// category from disk if it is not already in memory.
func (s *Store) Delete(ctx context.Context, category, id string) error {
	h, err := s.locks.Acquire(ctx, categoryLockName(category), "write")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "acquiring category lock", err)
	}
	defer h.Release()

	s.mu.RLock()
	c, ok := s.loaded[category]
	s.mu.RUnlock()
	if !ok {
		var found bool
		c, found, err = loadCategory(s.root, category)
		if err != nil {
			return apperr.Wrap(apperr.StorageFailure, "loading category "+category, err)
		}
		if !found {
			return apperr.New(apperr.NotFound, "category not found: "+category)
		}
		s.mu.Lock()
		s.loaded[category] = c
		s.mu.Unlock()
	}

	if !c.removePair(id) {
		return apperr.New(apperr.NotFound, "pair not found: "+id)
	}
	if err := c.persist(); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "persisting category "+category, err)
	}
	return nil
}

// DeleteCategory removes an entire category, its directory, and every pair
// in it. Absent categories are reported as zero-effect, not an error,
// matching the "remove directory if present" contract.
func (s *Store) DeleteCategory(ctx context.Context, name string) (*DeleteCategoryResult, error) {
	h, err := s.locks.Acquire(ctx, categoryLockName(name), "delete")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "acquiring category lock", err)
	}
	defer h.Release()

	s.mu.Lock()
	defer s.mu.Unlock()

	deletedCount := 0
	if c, ok := s.loaded[name]; ok {
		deletedCount = len(c.pairs)
		delete(s.loaded, name)
	}

	dir := categoryDir(s.root, name)
	folderDeleted := false
	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return nil, apperr.Wrap(apperr.StorageFailure, "removing category directory", err)
		}
		folderDeleted = true
	}

	delete(s.known, name)
	if err := s.writeIndexLocked(); err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "writing category index", err)
	}

	return &DeleteCategoryResult{DeletedCount: deletedCount, FolderDeleted: folderDeleted}, nil
}

// Query embeds question and returns the top-k most similar pairs, globally
// re-sorted across every in-scope category.
func (s *Store) Query(ctx context.Context, question string, topK int, minSimilarity float64, category string) (*QueryResult, error) {
	if topK <= 0 {
		topK = 1
	}
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "embedding query", err)
	}

	var scope []string
	if category != "" {
		scope = []string{category}
	} else {
		scope = s.loadedCategoryNames()
	}

	handles := make([]*lock.Handle, 0, len(scope))
	defer func() {
		for i := len(handles) - 1; i >= 0; i-- {
			handles[i].Release()
		}
	}()
	categories := make([]*category, 0, len(scope))
	for _, name := range scope {
		h, err := s.locks.Acquire(ctx, categoryLockName(name), "query")
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "acquiring category lock", err)
		}
		handles = append(handles, h)

		s.mu.RLock()
		c, ok := s.loaded[name]
		s.mu.RUnlock()
		if !ok {
			loaded, found, err := loadCategory(s.root, name)
			if err != nil {
				return nil, apperr.Wrap(apperr.StorageFailure, "loading category "+name, err)
			}
			if !found {
				continue
			}
			s.mu.Lock()
			s.loaded[name] = loaded
			s.mu.Unlock()
			c = loaded
		}
		categories = append(categories, c)
	}

	var all []Match
	for _, c := range categories {
		for _, id := range c.order {
			p := c.pairs[id]
			sim := cosineSimilarity(vec, p.Embedding)
			if sim < minSimilarity {
				continue
			}
			all = append(all, Match{Pair: *p, Similarity: sim})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Similarity != all[j].Similarity {
			return all[i].Similarity > all[j].Similarity
		}
		if all[i].Pair.Confidence != all[j].Pair.Confidence {
			return all[i].Pair.Confidence > all[j].Pair.Confidence
		}
		return all[i].Pair.ID < all[j].Pair.ID
	})
	if len(all) > topK {
		all = all[:topK]
	}

	result := &QueryResult{Matches: all}
	if len(all) > 0 && all[0].Similarity >= minSimilarity {
		result.Found = true
		result.Answer = all[0].Pair.Answer
	}
	telemetry.QAQueriesTotal.WithLabelValues(strconv.FormatBool(result.Found)).Inc()
	return result, nil
}

// Get loads one pair by category and id.
func (s *Store) Get(ctx context.Context, category, id string) (*QAPair, error) {
	h, err := s.locks.Acquire(ctx, categoryLockName(category), "read")
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "acquiring category lock", err)
	}
	defer h.Release()

	c, err := s.loadForRead(category)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.New(apperr.NotFound, "category not found: "+category)
	}

	p, ok := c.pairs[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "pair not found: "+id)
	}
	cp := *p
	return &cp, nil
}

// List returns every pair in category ordered by pair id, or every pair
// across every known category (category by category, in name order) when
// category is empty.
func (s *Store) List(ctx context.Context, category string) ([]QAPair, error) {
	names := []string{category}
	if category == "" {
		names = s.loadedCategoryNames()
	}

	var out []QAPair
	for _, name := range names {
		h, err := s.locks.Acquire(ctx, categoryLockName(name), "read")
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "acquiring category lock", err)
		}
		c, err := s.loadForRead(name)
		h.Release()
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		for _, id := range c.order {
			out = append(out, *c.pairs[id])
		}
	}
	return out, nil
}

// loadForRead returns the in-memory category, loading it from disk if
// necessary. Callers must already hold the category's lock. Returns
// (nil, nil) when the category does not exist.
func (s *Store) loadForRead(name string) (*category, error) {
	s.mu.RLock()
	c, ok := s.loaded[name]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	loaded, found, err := loadCategory(s.root, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "loading category "+name, err)
	}
	if !found {
		return nil, nil
	}
	s.mu.Lock()
	s.loaded[name] = loaded
	s.mu.Unlock()
	return loaded, nil
}

// Statistics returns aggregate counts across every known category,
// loading any that are not already in memory.
func (s *Store) Statistics(ctx context.Context, similarityThreshold float64) (*Stats, error) {
	names := s.loadedCategoryNames()
	stats := &Stats{SimilarityThreshold: similarityThreshold}

	var totalConfidence float64
	for _, name := range names {
		h, err := s.locks.Acquire(ctx, categoryLockName(name), "stats")
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "acquiring category lock", err)
		}

		s.mu.RLock()
		c, ok := s.loaded[name]
		s.mu.RUnlock()
		if !ok {
			loaded, found, err := loadCategory(s.root, name)
			if err != nil {
				h.Release()
				return nil, apperr.Wrap(apperr.StorageFailure, "loading category "+name, err)
			}
			if !found {
				h.Release()
				continue
			}
			s.mu.Lock()
			s.loaded[name] = loaded
			s.mu.Unlock()
			c = loaded
		}

		avg := c.averageConfidence()
		stats.Categories = append(stats.Categories, CategoryStats{
			Name:              name,
			PairCount:         len(c.pairs),
			AverageConfidence: avg,
		})
		stats.TotalPairs += len(c.pairs)
		totalConfidence += avg * float64(len(c.pairs))
		if c.dimension > stats.VectorDimension {
			stats.VectorDimension = c.dimension
		}
		h.Release()
	}

	if stats.TotalPairs > 0 {
		stats.AverageConfidence = totalConfidence / float64(stats.TotalPairs)
	}
	return stats, nil
}
