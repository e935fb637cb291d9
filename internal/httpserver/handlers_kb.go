package httpserver

import (
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/ragserver/internal/apperr"
	"github.com/wisbric/ragserver/pkg/kb"
)

// spoolToTempFile copies an uploaded archive to disk so kb.Manager.Restore,
// which operates on a path rather than a reader, can open it with
// archive/zip's random-access reader.
func spoolToTempFile(r io.Reader) (string, error) {
	f, err := os.CreateTemp("", "kb-restore-*.zip")
	if err != nil {
		return "", apperr.Wrap(apperr.StorageFailure, "spooling uploaded archive", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", apperr.Wrap(apperr.StorageFailure, "spooling uploaded archive", err)
	}
	return f.Name(), nil
}

func removeTempFile(path string) { os.Remove(path) }

func (s *Server) handleListKBs(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]any{"knowledge_bases": s.kbManager.List()})
}

type createKBRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Language    string `json:"language"`
	ChunkSize   int    `json:"chunk_size"`
	Overlap     int    `json:"overlap"`
	AutoUpdate  bool   `json:"auto_update"`
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req createKBRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	cfg := kb.DefaultConfig()
	if req.ChunkSize > 0 {
		cfg.ChunkSize = req.ChunkSize
	}
	if req.Overlap > 0 {
		cfg.Overlap = req.Overlap
	}
	cfg.AutoUpdate = req.AutoUpdate

	if err := s.kbManager.Create(r.Context(), req.Name, req.Description, req.Language, cfg); err != nil {
		RespondAppError(w, err)
		return
	}
	info, err := s.kbManager.Info(req.Name)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, info)
}

type switchKBRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleSwitchKB(w http.ResponseWriter, r *http.Request) {
	var req switchKBRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := s.kbManager.SwitchCurrent(req.Name); err != nil {
		RespondAppError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "switched current knowledge base to "+req.Name)
}

func (s *Server) handleCurrentKB(w http.ResponseWriter, _ *http.Request) {
	name := s.kbManager.Current()
	if name == "" {
		RespondError(w, http.StatusNotFound, "not-found", "no current knowledge base is set")
		return
	}
	info, err := s.kbManager.Info(name)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, info)
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	force := r.URL.Query().Get("force") == "true"
	if err := s.kbManager.Delete(r.Context(), name, force); err != nil {
		RespondAppError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "deleted knowledge base "+name)
}

type updateKBConfigRequest struct {
	ChunkSize  *int  `json:"chunk_size"`
	Overlap    *int  `json:"overlap"`
	AutoUpdate *bool `json:"auto_update"`
}

func (s *Server) handleUpdateKBConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req updateKBConfigRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	var partial kb.Config
	if req.ChunkSize != nil {
		partial.ChunkSize = *req.ChunkSize
	}
	if req.Overlap != nil {
		partial.Overlap = *req.Overlap
	}
	if req.AutoUpdate != nil {
		partial.AutoUpdate = *req.AutoUpdate
	}

	if err := s.kbManager.UpdateConfig(name, partial); err != nil {
		RespondAppError(w, err)
		return
	}
	info, err := s.kbManager.Info(name)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, info)
}

func (s *Server) handleBackupKB(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	archivePath, err := s.kbManager.Backup(r.Context(), name)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"archive_path": archivePath})
}

func (s *Server) handleRestoreKB(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := r.ParseMultipartForm(int64(s.cfg.MaxFileSizeMB) << 20); err != nil {
		RespondError(w, http.StatusRequestEntityTooLarge, "bad-input", "upload exceeds the maximum file size")
		return
	}
	file, _, err := r.FormFile("archive")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad-input", "missing archive field")
		return
	}
	defer file.Close()

	tmp, err := spoolToTempFile(file)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	defer removeTempFile(tmp)

	if err := s.kbManager.Restore(r.Context(), name, tmp); err != nil {
		RespondAppError(w, err)
		return
	}
	RespondMessage(w, http.StatusOK, "restored knowledge base "+name)
}
