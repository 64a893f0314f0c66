// Package api exposes tenant versioning over HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"botvault/internal/errors"
	"botvault/internal/logging"
	"botvault/internal/middleware"
	"botvault/internal/workspace"

	"go.uber.org/zap"
)

// DefaultMaxImportSize bounds an uploaded archive.
const DefaultMaxImportSize = 1024 * 1000 * 100

const (
	ActionRead  = "versioning:read"
	ActionWrite = "versioning:write"
)

// RevertRequest is the body of the revert route.
type RevertRequest struct {
	FilePath string `json:"filePath"`
	Revision string `json:"revision"`
}

// CommitRequest is the body of the commit route. No paths commits
// everything pending.
type CommitRequest struct {
	Paths []string `json:"paths"`
}

type VersioningHandler struct {
	registry      *workspace.Registry
	logger        *logging.Logger
	maxImportSize int64
}

func NewVersioningHandler(registry *workspace.Registry, logger *logging.Logger, maxImportSize int64) *VersioningHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	if maxImportSize <= 0 {
		maxImportSize = DefaultMaxImportSize
	}
	return &VersioningHandler{
		registry:      registry,
		logger:        logger,
		maxImportSize: maxImportSize,
	}
}

// Register adds the versioning routes to mux, each guarded by auth.
func (h *VersioningHandler) Register(mux *http.ServeMux, auth middleware.Authorizer) {
	if auth == nil {
		auth = middleware.AllowAll
	}
	read := middleware.Authorize(auth, ActionRead)
	write := middleware.Authorize(auth, ActionWrite)

	const base = "/api/bots/{botId}/versioning"
	mux.Handle("GET "+base+"/pending", read(http.HandlerFunc(h.Pending)))
	mux.Handle("GET "+base+"/export", read(http.HandlerFunc(h.Export)))
	mux.Handle("GET "+base+"/history", read(http.HandlerFunc(h.History)))
	mux.Handle("GET "+base+"/diff", read(http.HandlerFunc(h.Diff)))
	mux.Handle("POST "+base+"/revert", write(http.HandlerFunc(h.Revert)))
	mux.Handle("POST "+base+"/import", write(http.HandlerFunc(h.Import)))
	mux.Handle("POST "+base+"/commit", write(http.HandlerFunc(h.Commit)))
}

func (h *VersioningHandler) workspace(r *http.Request) (*workspace.Workspace, error) {
	return h.registry.Get(r.Context(), r.PathValue("botId"))
}

func (h *VersioningHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.StatusCode(err) >= http.StatusInternalServerError {
		h.logger.WithRequestID(r.Context()).Error("request failed",
			zap.String("tenant", r.PathValue("botId")),
			zap.Error(err))
	}
	errors.WriteHTTP(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *VersioningHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	changes, err := ws.Pending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *VersioningHandler) Export(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	a, err := ws.Export(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+a.Name)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Data)
}

func (h *VersioningHandler) Revert(w http.ResponseWriter, r *http.Request) {
	var req RevertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, r, errors.ValidationError("invalid request body", nil))
		return
	}
	if req.FilePath == "" || req.Revision == "" {
		h.fail(w, r, errors.ValidationError("filePath and revision are required", nil))
		return
	}

	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := ws.Revert(r.Context(), req.FilePath, req.Revision); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *VersioningHandler) Import(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ws.ImportEnabled() {
		h.fail(w, r, errors.NotImplemented("archive import is not supported"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxImportSize+(1<<20))
	file, _, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, errors.ValidationError("multipart field \"file\" is required", nil))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxImportSize+1))
	if err != nil {
		h.fail(w, r, errors.ValidationError("reading upload", nil))
		return
	}
	if int64(len(data)) > h.maxImportSize {
		h.fail(w, r, errors.ValidationError("archive exceeds the size limit", nil))
		return
	}

	revs, err := ws.Import(r.Context(), data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (h *VersioningHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.fail(w, r, errors.ValidationError("invalid request body", nil))
		return
	}

	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	revs, err := ws.Commit(r.Context(), req.Paths...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (h *VersioningHandler) History(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	revs, err := ws.History(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (h *VersioningHandler) Diff(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspace(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := ws.Diff(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, result.Format())
}
