package httpserver

import (
	"io"
	"net/http"
)

type insertTextRequest struct {
	Text          string `json:"text" validate:"required"`
	Source        string `json:"source"`
	KnowledgeBase string `json:"knowledge_base"`
	Language      string `json:"language"`
	ChunkSize     int    `json:"chunk_size"`
	Overlap       int    `json:"overlap"`
}

func (s *Server) kbOrCurrent(name string) string {
	if name != "" {
		return name
	}
	return s.kbManager.Current()
}

func (s *Server) handleInsertText(w http.ResponseWriter, r *http.Request) {
	var req insertTextRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	res, err := s.docs.InsertText(r.Context(), s.kbOrCurrent(req.KnowledgeBase), req.Text, req.Source, req.Language, req.ChunkSize, req.Overlap)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, res)
}

type insertTextsRequest struct {
	Texts         []string `json:"texts" validate:"required,min=1"`
	Source        string   `json:"source"`
	KnowledgeBase string   `json:"knowledge_base"`
	Language      string   `json:"language"`
	ChunkSize     int      `json:"chunk_size"`
	Overlap       int      `json:"overlap"`
}

func (s *Server) handleInsertTexts(w http.ResponseWriter, r *http.Request) {
	var req insertTextsRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	results := s.docs.InsertTexts(r.Context(), s.kbOrCurrent(req.KnowledgeBase), req.Texts, req.Source, req.Language, req.ChunkSize, req.Overlap)
	Respond(w, http.StatusCreated, map[string]any{"results": results})
}

func (s *Server) handleInsertFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(s.cfg.MaxFileSizeMB) << 20); err != nil {
		RespondError(w, http.StatusRequestEntityTooLarge, "bad-input", "upload exceeds the maximum file size")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad-input", "missing file field")
		return
	}
	defer file.Close()

	kbName := s.kbOrCurrent(r.FormValue("knowledge_base"))
	language := r.FormValue("language")

	res, err := s.docs.InsertFile(r.Context(), kbName, header.Filename, file, language, 0, 0, s.cfg.AllowedFileTypes)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, res)
}

func (s *Server) handleInsertFiles(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(int64(s.cfg.MaxFileSizeMB) << 20); err != nil {
		RespondError(w, http.StatusRequestEntityTooLarge, "bad-input", "upload exceeds the maximum file size")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		RespondError(w, http.StatusBadRequest, "bad-input", "missing files field")
		return
	}

	kbName := s.kbOrCurrent(r.FormValue("knowledge_base"))
	language := r.FormValue("language")

	readers := make(map[string]io.Reader, len(r.MultipartForm.File["files"]))
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			continue
		}
		defer f.Close()
		readers[fh.Filename] = f
	}

	results := s.docs.InsertFiles(r.Context(), kbName, readers, language, 0, 0, s.cfg.AllowedFileTypes)
	Respond(w, http.StatusCreated, map[string]any{"results": results})
}

type insertDirectoryRequest struct {
	Path          string `json:"path" validate:"required"`
	KnowledgeBase string `json:"knowledge_base"`
	Language      string `json:"language"`
	ChunkSize     int    `json:"chunk_size"`
	Overlap       int    `json:"overlap"`
}

func (s *Server) handleInsertDirectory(w http.ResponseWriter, r *http.Request) {
	var req insertDirectoryRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	results, err := s.docs.InsertDirectory(r.Context(), s.kbOrCurrent(req.KnowledgeBase), req.Path, req.Language, req.ChunkSize, req.Overlap, s.cfg.AllowedFileTypes)
	if err != nil {
		RespondAppError(w, err)
		return
	}
	Respond(w, http.StatusCreated, map[string]any{"results": results})
}
