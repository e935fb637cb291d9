package docstore

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/pkg/kb"
	"github.com/wisbric/ragserver/pkg/retrieval"
)

// Relation is one labeled edge between two entity labels.
type Relation struct {
	Source string
	Target string
	Label  string
}

// graphML mirrors just enough of the GraphML schema (nodes with a single
// "label" data field, edges with a single "label" data field) to round-trip
// the entity/relation graph this package builds. No GraphML library exists
// anywhere in the available dependency set, so this is a minimal
// encoding/xml mapping rather than a full GraphML implementation; see
// DESIGN.md.
type graphML struct {
	XMLName xml.Name     `xml:"graphml"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLGraph struct {
	Nodes []graphMLNode `xml:"node"`
	Edges []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string `xml:"id,attr"`
	Data string `xml:"data"`
}

type graphMLEdge struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
	Data   string `xml:"data"`
}

func graphPath(dir string) string { return filepath.Join(dir, kb.FileGraph) }

func loadGraph(dir string) (map[string]bool, []Relation, error) {
	raw, err := os.ReadFile(graphPath(dir))
	if os.IsNotExist(err) {
		return make(map[string]bool), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("docstore: reading graph: %w", err)
	}

	var g graphML
	if len(raw) == 0 {
		return make(map[string]bool), nil, nil
	}
	if err := xml.Unmarshal(raw, &g); err != nil {
		return nil, nil, fmt.Errorf("docstore: decoding graph: %w", err)
	}

	entities := make(map[string]bool, len(g.Graph.Nodes))
	for _, n := range g.Graph.Nodes {
		entities[n.ID] = true
	}
	relations := make([]Relation, 0, len(g.Graph.Edges))
	for _, e := range g.Graph.Edges {
		relations = append(relations, Relation{Source: e.Source, Target: e.Target, Label: e.Data})
	}
	return entities, relations, nil
}

func saveGraph(dir string, entities map[string]bool, relations []Relation) error {
	g := graphML{Graph: graphMLGraph{}}
	for id := range entities {
		g.Graph.Nodes = append(g.Graph.Nodes, graphMLNode{ID: id, Data: "entity"})
	}
	for _, r := range relations {
		g.Graph.Edges = append(g.Graph.Edges, graphMLEdge{Source: r.Source, Target: r.Target, Data: r.Label})
	}
	raw, err := xml.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encoding graph: %w", err)
	}
	return writeAtomic(graphPath(dir), raw)
}

// mergeGraphLocked extracts entities and co-occurrence relations from text
// and merges them into dir's persisted graph. Callers must already hold
// the KB's document lock (InsertText does); it does not acquire one itself
// to avoid deadlocking against the caller's own held lock.
func mergeGraphLocked(dir, text string) error {
	entities, relations, err := loadGraph(dir)
	if err != nil {
		return apperr.Wrap(apperr.StorageFailure, "loading graph", err)
	}

	found := extractEntities(text)
	for _, e := range found {
		entities[e] = true
	}
	relations = append(relations, coOccurrenceRelations(found)...)

	if err := saveGraph(dir, entities, relations); err != nil {
		return apperr.Wrap(apperr.StorageFailure, "saving graph", err)
	}
	return nil
}

// GraphStats reports the node/edge counts of kbName's graph.
func (s *Store) GraphStats(ctx context.Context, kbName string) (nodeCount, edgeCount int, err error) {
	info, err := s.manager.Info(kbName)
	if err != nil {
		return 0, 0, err
	}
	entities, relations, err := loadGraph(info.WorkingDir)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.StorageFailure, "loading graph", err)
	}
	return len(entities), len(relations), nil
}

// ClearGraph truncates kbName's graph to empty.
func (s *Store) ClearGraph(ctx context.Context, kbName string) error {
	info, err := s.manager.Info(kbName)
	if err != nil {
		return err
	}
	h, err := s.locks.Acquire(ctx, docLockName(kbName), "clear-graph")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "acquiring kb document lock", err)
	}
	defer h.Release()
	return saveGraph(info.WorkingDir, make(map[string]bool), nil)
}

// Neighbors1Hop implements retrieval.GraphStore: re-extracts entities from
// the supplied chunks' text and returns every relation one hop away from
// them in the persisted graph.
func (s *Store) Neighbors1Hop(ctx context.Context, kbName string, chunks []retrieval.Chunk) ([]retrieval.GraphNeighbor, error) {
	info, err := s.manager.Info(kbName)
	if err != nil {
		return nil, err
	}
	_, relations, err := loadGraph(info.WorkingDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageFailure, "loading graph", err)
	}

	seeds := make(map[string]bool)
	for _, c := range chunks {
		for _, e := range extractEntities(c.Text) {
			seeds[e] = true
		}
	}

	var out []retrieval.GraphNeighbor
	seen := make(map[string]bool)
	for _, r := range relations {
		var neighbor string
		switch {
		case seeds[r.Source] && !seeds[r.Target]:
			neighbor = r.Target
		case seeds[r.Target] && !seeds[r.Source]:
			neighbor = r.Source
		default:
			continue
		}
		if seen[neighbor] {
			continue
		}
		seen[neighbor] = true
		out = append(out, retrieval.GraphNeighbor{Label: neighbor, Text: fmt.Sprintf("%s %s %s", r.Source, r.Label, r.Target), Score: 1})
	}
	return out, nil
}

// Traverse implements retrieval.GraphStore: seeds from entities found in
// the query text, then walks outward up to depth hops collecting entities
// and the relations that connect them.
func (s *Store) Traverse(ctx context.Context, kbName, text string, depth int) ([]retrieval.GraphNeighbor, []retrieval.GraphNeighbor, error) {
	info, err := s.manager.Info(kbName)
	if err != nil {
		return nil, nil, err
	}
	entities, relations, err := loadGraph(info.WorkingDir)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.StorageFailure, "loading graph", err)
	}
	if depth <= 0 {
		depth = 1
	}

	frontier := make(map[string]bool)
	for _, e := range extractEntities(text) {
		if entities[e] {
			frontier[e] = true
		}
	}

	visited := make(map[string]bool)
	for k := range frontier {
		visited[k] = true
	}
	var visitedRelations []Relation

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make(map[string]bool)
		for _, r := range relations {
			var expand string
			switch {
			case frontier[r.Source] && !visited[r.Target]:
				expand = r.Target
			case frontier[r.Target] && !visited[r.Source]:
				expand = r.Source
			default:
				continue
			}
			visitedRelations = append(visitedRelations, r)
			next[expand] = true
			visited[expand] = true
		}
		frontier = next
	}

	entityNeighbors := make([]retrieval.GraphNeighbor, 0, len(visited))
	for e := range visited {
		entityNeighbors = append(entityNeighbors, retrieval.GraphNeighbor{Label: e, Text: e, Score: 1})
	}
	relationNeighbors := make([]retrieval.GraphNeighbor, 0, len(visitedRelations))
	for _, r := range visitedRelations {
		relationNeighbors = append(relationNeighbors, retrieval.GraphNeighbor{
			Label: r.Label,
			Text:  fmt.Sprintf("%s %s %s", r.Source, r.Label, r.Target),
			Score: 1,
		})
	}
	return entityNeighbors, relationNeighbors, nil
}
