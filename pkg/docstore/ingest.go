package docstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/wisbric/ragserver/internal/apperr"
)

// defaultAllowedFileTypes lists the MIME types InsertFile accepts when the
// caller passes an empty allowed list. There is no
// PDF, Word, or spreadsheet parsing library anywhere in the available
// dependency set, so ingestion is plain-text-only; see DESIGN.md.
var defaultAllowedFileTypes = []string{
	"text/plain",
	"text/markdown",
	"text/csv",
	"application/json",
}

// InsertFile reads one uploaded file's contents, checks its detected MIME
// type against allowed, and ingests it as a single document named by
// filename. allowed being empty falls back to defaultAllowedFileTypes.
func (s *Store) InsertFile(ctx context.Context, kbName, filename string, r io.Reader, language string, chunkSize, overlap int, allowed []string) (*InsertResult, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxFileReadBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.BadInput, "reading uploaded file", err)
	}
	if len(raw) > maxFileReadBytes {
		return nil, apperr.New(apperr.BadInput, "uploaded file exceeds the maximum ingest size")
	}

	mtype := mimetype.Detect(raw)
	if !fileTypeAllowed(mtype, allowed) {
		return nil, apperr.New(apperr.BadInput, "unsupported file type: "+mtype.String()+" (only plain-text formats are ingestible)")
	}

	return s.InsertText(ctx, kbName, string(raw), filename, language, chunkSize, overlap)
}

// InsertFiles ingests multiple uploaded files into the same knowledge base.
// One file's failure does not affect the others.
func (s *Store) InsertFiles(ctx context.Context, kbName string, files map[string]io.Reader, language string, chunkSize, overlap int, allowed []string) []*InsertResult {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	results := make([]*InsertResult, len(names))
	for i, name := range names {
		r, err := s.InsertFile(ctx, kbName, name, files[name], language, chunkSize, overlap, allowed)
		if err != nil {
			results[i] = &InsertResult{Status: StatusFailed, Error: err.Error()}
			continue
		}
		results[i] = r
	}
	return results
}

// InsertDirectory walks root on the server's own filesystem and ingests
// every regular file found under it, skipping hidden entries and anything
// MIME detection rejects. Intended for operators loading a pre-staged
// corpus directory rather than for untrusted client input.
func (s *Store) InsertDirectory(ctx context.Context, kbName, root, language string, chunkSize, overlap int, allowed []string) ([]*InsertResult, error) {
	var results []*InsertResult
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		f, ferr := os.Open(path)
		if ferr != nil {
			results = append(results, &InsertResult{Status: StatusFailed, Error: ferr.Error()})
			return nil
		}
		res, ierr := s.InsertFile(ctx, kbName, path, f, language, chunkSize, overlap, allowed)
		f.Close()
		if ierr != nil {
			results = append(results, &InsertResult{Status: StatusFailed, Error: ierr.Error()})
			return nil
		}
		results = append(results, res)
		return nil
	})
	if walkErr != nil {
		return results, apperr.Wrap(apperr.BadInput, "walking directory", walkErr)
	}
	return results, nil
}

func fileTypeAllowed(mtype *mimetype.MIME, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = defaultAllowedFileTypes
	}
	for m := mtype; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

// maxFileReadBytes bounds a single uploaded file's size before it is even
// considered for MIME detection, independent of any HTTP-layer request
// body limit.
const maxFileReadBytes = 64 << 20 // 64MiB

// DocumentSourceName derives the document "source" label recorded on a
// Document from an uploaded filename, stripping any directory components
// a client might have sent.
func DocumentSourceName(name string) string {
	return filepath.Base(name)
}
