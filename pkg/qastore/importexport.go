package qastore

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wisbric/ragserver/internal/apperr"
)

// Format names an import/export payload encoding. Spreadsheet formats are
// deliberately not included: no spreadsheet-parsing library is available,
// so xlsx payloads are rejected as bad-input rather than hand-rolled.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

type importRecord struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Source     string   `json:"source,omitempty"`
}

func decodeRecords(format Format, r io.Reader) ([]importRecord, error) {
	switch format {
	case FormatJSON:
		var records []importRecord
		if err := json.NewDecoder(r).Decode(&records); err != nil {
			return nil, apperr.Wrap(apperr.BadInput, "decoding json import payload", err)
		}
		return records, nil
	case FormatCSV:
		reader := csv.NewReader(r)
		header, err := reader.Read()
		if err != nil {
			return nil, apperr.Wrap(apperr.BadInput, "reading csv header", err)
		}
		col := make(map[string]int, len(header))
		for i, h := range header {
			col[strings.ToLower(strings.TrimSpace(h))] = i
		}
		for _, required := range []string{"question", "answer", "category"} {
			if _, ok := col[required]; !ok {
				return nil, apperr.New(apperr.BadInput, "csv import missing required column: "+required)
			}
		}

		var records []importRecord
		for {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, apperr.Wrap(apperr.BadInput, "reading csv row", err)
			}
			rec := importRecord{
				Question: row[col["question"]],
				Answer:   row[col["answer"]],
				Category: row[col["category"]],
			}
			if i, ok := col["confidence"]; ok && row[i] != "" {
				if v, err := strconv.ParseFloat(row[i], 64); err == nil {
					rec.Confidence = &v
				}
			}
			if i, ok := col["keywords"]; ok && row[i] != "" {
				rec.Keywords = strings.Split(row[i], "|")
			}
			if i, ok := col["source"]; ok {
				rec.Source = row[i]
			}
			records = append(records, rec)
		}
		return records, nil
	default:
		return nil, apperr.New(apperr.BadInput, fmt.Sprintf("unsupported import format %q", format))
	}
}

// Import decodes records in the given format and upserts them. When
// overwriteExisting is true, an incoming pair whose question embeds to
// cosine similarity >= 0.98 against an existing pair in the same category
// replaces it; otherwise it is skipped and reported as a duplicate.
func (s *Store) Import(ctx context.Context, format Format, r io.Reader, overwriteExisting bool) (*ImportResult, error) {
	const duplicateThreshold = 0.98

	records, err := decodeRecords(format, r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Processed: len(records)}
	for i, rec := range records {
		if rec.Question == "" || rec.Answer == "" || rec.Category == "" {
			result.Failed++
			result.FailedRecords = append(result.FailedRecords, BatchFailure{Index: i, Error: "missing required field"})
			continue
		}
		confidence := 0.9
		if rec.Confidence != nil {
			confidence = *rec.Confidence
		}
		keywords := rec.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		source := rec.Source
		if source == "" {
			source = "import"
		}

		existing, err := s.Query(ctx, rec.Question, 1, duplicateThreshold, rec.Category)
		if err != nil {
			result.Failed++
			result.FailedRecords = append(result.FailedRecords, BatchFailure{Index: i, Error: err.Error()})
			continue
		}
		if existing.Found {
			if !overwriteExisting {
				result.DuplicateSkipped++
				continue
			}
			if err := s.Delete(ctx, rec.Category, existing.Matches[0].Pair.ID); err != nil {
				result.Failed++
				result.FailedRecords = append(result.FailedRecords, BatchFailure{Index: i, Error: err.Error()})
				continue
			}
		}

		pair := QAPair{
			Question:   rec.Question,
			Answer:     rec.Answer,
			Category:   rec.Category,
			Confidence: confidence,
			Keywords:   keywords,
			Source:     source,
		}
		if _, err := s.Add(ctx, pair); err != nil {
			result.Failed++
			result.FailedRecords = append(result.FailedRecords, BatchFailure{Index: i, Error: err.Error()})
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// Export writes every pair, in the given format, across every known
// category.
func (s *Store) Export(ctx context.Context, format Format, w io.Writer) error {
	names := s.loadedCategoryNames()

	var all []QAPair
	for _, name := range names {
		s.mu.RLock()
		c, ok := s.loaded[name]
		s.mu.RUnlock()
		if !ok {
			loaded, found, err := loadCategory(s.root, name)
			if err != nil {
				return apperr.Wrap(apperr.StorageFailure, "loading category "+name, err)
			}
			if !found {
				continue
			}
			s.mu.Lock()
			s.loaded[name] = loaded
			s.mu.Unlock()
			c = loaded
		}
		for _, id := range c.order {
			all = append(all, *c.pairs[id])
		}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(all); err != nil {
			return apperr.Wrap(apperr.Internal, "encoding export payload", err)
		}
		return nil
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"id", "question", "answer", "category", "confidence", "keywords", "source"}); err != nil {
			return apperr.Wrap(apperr.Internal, "writing csv header", err)
		}
		for _, p := range all {
			row := []string{
				p.ID, p.Question, p.Answer, p.Category,
				strconv.FormatFloat(p.Confidence, 'f', -1, 64),
				strings.Join(p.Keywords, "|"),
				p.Source,
			}
			if err := cw.Write(row); err != nil {
				return apperr.Wrap(apperr.Internal, "writing csv row", err)
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return apperr.New(apperr.BadInput, fmt.Sprintf("unsupported export format %q", format))
	}
}
