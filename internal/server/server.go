// Package server exposes the HTTP API. Authentication happens upstream; the
// reverse proxy injects the tenant, actor, and role headers this package
// trusts. Handlers translate between the wire and the pipeline; they hold no
// business logic of their own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dockhand/internal/commit"
	"dockhand/internal/intake"
	"dockhand/internal/logging"
	"dockhand/internal/ocr"
	"dockhand/internal/pipeline"
	"dockhand/internal/store"
	"dockhand/internal/types"
)

const (
	headerYacht = "X-Yacht-ID"
	headerActor = "X-Actor-ID"
	headerRole  = "X-Actor-Role"
)

// privilegedRoles may commit sessions.
var privilegedRoles = map[string]bool{
	"captain":  true,
	"engineer": true,
	"manager":  true,
}

// Server is the HTTP API over the pipeline.
type Server struct {
	gate         *intake.Gate
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	commits      *commit.Engine
	selector     *ocr.Selector
	development  bool
	version      string
}

// New assembles the server.
func New(gate *intake.Gate, orch *pipeline.Orchestrator, s *store.Store,
	commits *commit.Engine, selector *ocr.Selector, development bool, version string) *Server {
	return &Server{
		gate:         gate,
		orchestrator: orch,
		store:        s,
		commits:      commits,
		selector:     selector,
		development:  development,
		version:      version,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/images/upload", s.withIdentity(s.handleUpload))
	mux.HandleFunc("GET /api/v1/images/{image_id}/status", s.withIdentity(s.handleImageStatus))
	mux.HandleFunc("GET /api/v1/receiving/sessions/{session_id}", s.withIdentity(s.handleGetSession))
	mux.HandleFunc("PATCH /api/v1/receiving/sessions/{session_id}/lines/{line_id}/verify", s.withIdentity(s.handleVerifyLine))
	mux.HandleFunc("POST /api/v1/receiving/sessions/{session_id}/commit", s.withIdentity(s.handleCommit))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// identity is the authenticated caller context.
type identity struct {
	YachtID string
	ActorID string
	Role    string
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id identity)

// withIdentity extracts the proxy-injected identity headers and assigns a
// request id for log correlation.
func (s *Server) withIdentity(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identity{
			YachtID: r.Header.Get(headerYacht),
			ActorID: r.Header.Get(headerActor),
			Role:    r.Header.Get(headerRole),
		}
		if id.YachtID == "" || id.ActorID == "" {
			s.writeError(w, r, http.StatusUnauthorized,
				types.NewPipelineError(types.ErrForbidden, "missing tenant or actor identity"))
			return
		}
		next(w, r, id)
	}
}

// uploadFileResult is the per-file entry in the upload response.
type uploadFileResult struct {
	Filename    string                `json:"filename"`
	Upload      *types.Upload         `json:"upload,omitempty"`
	IsDuplicate bool                  `json:"is_duplicate,omitempty"`
	Error       *errorBody            `json:"error,omitempty"`
}

type uploadResponse struct {
	Status    string             `json:"status"`
	SessionID string             `json:"session_id,omitempty"`
	Files     []uploadFileResult `json:"files"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, id identity) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.writeError(w, r, http.StatusBadRequest,
			types.NewPipelineError(types.ErrMalformedRequest, "malformed multipart request: %v", err))
		return
	}

	kind := types.UploadKind(r.FormValue("upload_type"))
	if kind == "" {
		kind = types.UploadReceiving
	}

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		s.writeError(w, r, http.StatusBadRequest,
			types.NewPipelineError(types.ErrMalformedRequest, "no files in request"))
		return
	}

	resp := uploadResponse{Status: "ok"}
	var admitted []*types.Upload
	for _, fh := range fileHeaders {
		result := uploadFileResult{Filename: fh.Filename}

		data, err := readMultipartFile(fh)
		if err != nil {
			result.Error = s.errorBody(types.NewPipelineError(types.ErrInvalidImage, "cannot read file: %v", err))
			resp.Files = append(resp.Files, result)
			continue
		}

		outcome, err := s.gate.Admit(r.Context(), intake.Submission{
			YachtID:  id.YachtID,
			ActorID:  id.ActorID,
			Filename: fh.Filename,
			MIMEType: contentType(fh.Header.Get("Content-Type"), data),
			Kind:     kind,
			Data:     data,
		})
		if err != nil {
			var rl *types.RateLimitError
			if errors.As(err, &rl) {
				// The whole request is throttled, not just this file.
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
				s.writeError(w, r, http.StatusTooManyRequests, rl.Pipeline())
				return
			}
			result.Error = s.errorBody(err)
			resp.Files = append(resp.Files, result)
			continue
		}

		result.Upload = outcome.Upload
		result.IsDuplicate = outcome.IsDuplicate
		resp.Files = append(resp.Files, result)
		if !outcome.IsDuplicate {
			admitted = append(admitted, outcome.Upload)
		}
	}

	if len(admitted) > 0 && kind == types.UploadReceiving {
		s.startProcessing(id, admitted)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// startProcessing runs the pipeline detached from the request: the upload
// response returns immediately and the status endpoint tracks progress.
func (s *Server) startProcessing(id identity, uploads []*types.Upload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.orchestrator.Run(ctx, id.YachtID, id.ActorID, uploads); err != nil {
			logging.Get(logging.CategoryPipeline).Error("batch processing failed for yacht %s: %v", id.YachtID, err)
		}
	}()
}

func (s *Server) handleImageStatus(w http.ResponseWriter, r *http.Request, id identity) {
	upload, err := s.store.GetUpload(r.Context(), id.YachtID, r.PathValue("image_id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound,
			types.NewPipelineError(types.ErrUploadNotFound, "no such upload"))
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"id":      upload.ID,
		"state":   upload.Status,
		"quality": upload.Quality,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, id identity) {
	session, err := s.store.GetSession(r.Context(), id.YachtID, r.PathValue("session_id"))
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, r, http.StatusNotFound,
			types.NewPipelineError(types.ErrSessionNotFound, "no such session"))
		return
	}
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}

	verified := 0
	for _, l := range session.Lines {
		if l.Verified {
			verified++
		}
	}
	session.Summary.LinesVerified = verified

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"session": session,
		"permissions": map[string]bool{
			"can_commit": privilegedRoles[id.Role],
		},
	})
}

// verifyRequest carries the crew member's corrections alongside the flag.
type verifyRequest struct {
	Verified    *bool    `json:"is_verified"`
	Quantity    *float64 `json:"quantity"`
	Unit        *string  `json:"unit"`
	Description *string  `json:"description"`
	PartNumber  *string  `json:"part_number"`
	UnitPrice   *float64 `json:"unit_price"`
}

func (s *Server) handleVerifyLine(w http.ResponseWriter, r *http.Request, id identity) {
	sessionID := r.PathValue("session_id")
	lineID := r.PathValue("line_id")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest,
			types.NewPipelineError(types.ErrMalformedRequest, "malformed request body: %v", err))
		return
	}

	lines, err := s.store.ListSessionLines(r.Context(), id.YachtID, sessionID)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	var line *types.LineItem
	for i := range lines {
		if lines[i].ID == lineID {
			line = &lines[i]
			break
		}
	}
	if line == nil {
		s.writeError(w, r, http.StatusNotFound,
			types.NewPipelineError(types.ErrLineNotFound, "no such line in session"))
		return
	}

	applyCorrections(line, req)
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}
	line.Verified = verified
	if verified {
		now := time.Now()
		line.VerifiedBy = id.ActorID
		line.VerifiedAt = &now
	} else {
		line.VerifiedBy = ""
		line.VerifiedAt = nil
	}

	if err := s.store.UpdateLineVerification(r.Context(), id.YachtID, sessionID, lineID, line); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, r, http.StatusNotFound,
				types.NewPipelineError(types.ErrLineNotFound, "line not editable; session may be committed"))
			return
		}
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "line": line})
}

func applyCorrections(line *types.LineItem, req verifyRequest) {
	if req.Quantity != nil && *req.Quantity > 0 {
		line.Quantity = *req.Quantity
	}
	if req.Unit != nil {
		line.Unit = *req.Unit
	}
	if req.Description != nil && *req.Description != "" {
		line.Description = *req.Description
	}
	if req.PartNumber != nil {
		line.PartNumber = strings.ToUpper(strings.TrimSpace(*req.PartNumber))
	}
	if req.UnitPrice != nil && *req.UnitPrice >= 0 {
		line.UnitPrice = *req.UnitPrice
	}
}

type commitRequest struct {
	Notes              string `json:"commitment_notes"`
	OverrideUnverified bool   `json:"override_unverified"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request, id identity) {
	if !privilegedRoles[id.Role] {
		s.writeError(w, r, http.StatusForbidden,
			types.NewPipelineError(types.ErrForbidden, "committing a session requires a privileged role"))
		return
	}

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, http.StatusBadRequest,
			types.NewPipelineError(types.ErrMalformedRequest, "malformed request body: %v", err))
		return
	}

	summary, err := s.commits.Commit(r.Context(), commit.Request{
		SessionID:          r.PathValue("session_id"),
		YachtID:            id.YachtID,
		ActorID:            id.ActorID,
		Notes:              req.Notes,
		OverrideUnverified: req.OverrideUnverified,
	})
	if err != nil {
		var perr *types.PipelineError
		if errors.As(err, &perr) {
			s.writeError(w, r, commitStatus(perr.Code), perr)
			return
		}
		s.writeInternal(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "result": summary})
}

func commitStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrSessionNotFound:
		return http.StatusNotFound
	case types.ErrUnverifiedLines, types.ErrInsufficientStock:
		return http.StatusBadRequest
	case types.ErrSessionCommitted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "degraded",
			"version": s.version,
			"detail":  "store unreachable",
		})
		return
	}
	engine, err := s.selector.Active(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "degraded",
			"version": s.version,
			"detail":  "no OCR engine available",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"version":    s.version,
		"ocr_engine": engine.Name(),
	})
}

// errorBody is the wire form of the error envelope.
type errorBody struct {
	Status    string                 `json:"status"`
	ErrorCode types.ErrorCode        `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
}

func (s *Server) errorBody(err error) *errorBody {
	body := &errorBody{
		Status:    "error",
		ErrorCode: types.ErrInternal,
		Message:   "internal error",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: uuid.NewString(),
	}
	var perr *types.PipelineError
	if errors.As(err, &perr) {
		body.ErrorCode = perr.Code
		body.Message = perr.Message
		body.Details = perr.Details
	} else if s.development {
		// Raw messages leak internals; only development builds see them.
		body.Message = err.Error()
	}
	return body
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := s.errorBody(err)
	logging.Get(logging.CategoryAPI).Warn("%s %s -> %d %s: %s",
		r.Method, r.URL.Path, status, body.ErrorCode, body.Message)
	s.writeJSON(w, status, body)
}

func (s *Server) writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.Get(logging.CategoryAPI).Error("%s %s failed: %v", r.Method, r.URL.Path, err)
	s.writeError(w, r, http.StatusInternalServerError, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryAPI).Error("response encoding failed: %v", err)
	}
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// contentType prefers the declared type but sniffs when the client sent none.
func contentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if i := strings.Index(declared, ";"); i >= 0 {
			declared = declared[:i]
		}
		return strings.TrimSpace(declared)
	}
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}
