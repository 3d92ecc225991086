package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recipebox/internal/importer"
	"recipebox/internal/storage"
	"recipebox/internal/usage"
	"recipebox/pkg/types"
)

// ImportService runs the extraction pipeline for the import endpoints.
type ImportService interface {
	ImportFromURL(ctx context.Context, userID, rawURL string) (*importer.Result, error)
	ImportFromPDF(ctx context.Context, userID string, pdf []byte) (*importer.Result, error)
	CalculateMacros(ctx context.Context, userID string, recipe types.Recipe) (*importer.MacroResult, error)
}

// UsageReporter exposes the current AI budget for the public stats endpoint.
type UsageReporter interface {
	Stats(ctx context.Context) usage.Snapshot
}

// Store is the persistence surface the server needs.
type Store interface {
	CreateUser(ctx context.Context, username, email string) (*storage.User, error)
	UserByToken(ctx context.Context, token string) (*storage.User, error)
	SaveRecipe(ctx context.Context, userID string, recipe types.Recipe, sourceURL string, method types.ImportMethod) (*storage.SavedRecipe, error)
	ListRecipes(ctx context.Context, userID string, params storage.RecipeListParams) (storage.RecipeListResult, error)
	GetRecipe(ctx context.Context, userID, id string) (*storage.SavedRecipe, error)
	DeleteRecipe(ctx context.Context, userID, id string) error
	UpdateRecipeMacros(ctx context.Context, userID, id string, macros types.Macros) error
	TogglePinRecipe(ctx context.Context, userID, id string) (*storage.SavedRecipe, error)
}

// Server exposes the HTTP API for recipe imports and the saved collection.
type Server struct {
	imports     ImportService
	store       Store
	stats       UsageReporter
	maxPDFBytes int64
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewServer wires handlers onto an HTTP mux.
func NewServer(imports ImportService, store Store, stats UsageReporter, maxPDFBytes int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPDFBytes <= 0 {
		maxPDFBytes = 10 * 1024 * 1024
	}
	s := &Server{
		imports:     imports,
		store:       store,
		stats:       stats,
		maxPDFBytes: maxPDFBytes,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP satisfies the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/import/url", s.requireAuth(s.handleImportURL))
	s.mux.HandleFunc("/api/import/pdf", s.requireAuth(s.handleImportPDF))
	s.mux.HandleFunc("/api/import/video", s.handleImportVideo)
	s.mux.HandleFunc("/api/import/usage", s.handleUsageStats)
	s.mux.HandleFunc("/api/recipes", s.requireAuth(s.handleRecipes))
	s.mux.HandleFunc("/api/recipes/", s.requireAuth(s.handleRecipeByID))
	s.mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	s.mux.HandleFunc("/docs", s.handleDocs)
}

// requireAuth resolves the bearer token to a user before the handler runs.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, *storage.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		user, err := s.store.UserByToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "invalid token", "")
				return
			}
			s.logger.Error("token lookup failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error", "")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json payload: %v", err), string(types.KindInvalidInput))
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required", string(types.KindInvalidInput))
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Username, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "username or email already taken", "")
			return
		}
		s.logger.Error("create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	// The token is returned once, at registration.
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleImportURL(w http.ResponseWriter, r *http.Request, user *storage.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req ImportURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json payload: %v", err), string(types.KindInvalidInput))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required", string(types.KindInvalidInput))
		return
	}
	res, err := s.imports.ImportFromURL(r.Context(), user.ID, strings.TrimSpace(req.URL))
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse(res))
}

func (s *Server) handleImportPDF(w http.ResponseWriter, r *http.Request, user *storage.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Some slack over the PDF cap for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxPDFBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart upload with a \"file\" part is required", string(types.KindInvalidInput))
		return
	}
	defer file.Close()

	if header.Size > s.maxPDFBytes {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("PDF exceeds the %d byte limit", s.maxPDFBytes), string(types.KindInvalidInput))
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/pdf" {
		writeError(w, http.StatusBadRequest, "only application/pdf uploads are accepted", string(types.KindInvalidInput))
		return
	}
	pdf, err := io.ReadAll(io.LimitReader(file, s.maxPDFBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload", string(types.KindInvalidInput))
		return
	}
	if int64(len(pdf)) > s.maxPDFBytes {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("PDF exceeds the %d byte limit", s.maxPDFBytes), string(types.KindInvalidInput))
		return
	}

	res, err := s.imports.ImportFromPDF(r.Context(), user.ID, pdf)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse(res))
}

func (s *Server) handleImportVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	writeError(w, http.StatusNotImplemented, "video import is not yet supported", "")
}

// handleUsageStats is intentionally public: the shared budget is global,
// not per user, and clients show it before offering the import button.
func (s *Server) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats(r.Context()))
}

func (s *Server) handleRecipes(w http.ResponseWriter, r *http.Request, user *storage.User) {
	switch r.Method {
	case http.MethodGet:
		s.listRecipes(w, r, user)
	case http.MethodPost:
		s.createRecipe(w, r, user)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) listRecipes(w http.ResponseWriter, r *http.Request, user *storage.User) {
	q := r.URL.Query()
	params := storage.RecipeListParams{
		Search: q.Get("search"),
		Tag:    q.Get("tag"),
	}
	if v := q.Get("page"); v != "" {
		params.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("page_size"); v != "" {
		params.PageSize, _ = strconv.Atoi(v)
	}
	result, err := s.store.ListRecipes(r.Context(), user.ID, params)
	if err != nil {
		s.logger.Error("list recipes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request, user *storage.User) {
	var req CreateRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json payload: %v", err), string(types.KindInvalidInput))
		return
	}
	if !req.Recipe.Valid() {
		writeError(w, http.StatusBadRequest, "recipe needs a name and at least one ingredient", string(types.KindInvalidInput))
		return
	}
	saved, err := s.store.SaveRecipe(r.Context(), user.ID, req.Recipe, req.SourceURL, req.ImportMethod)
	if err != nil {
		s.logger.Error("save recipe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleRecipeByID(w http.ResponseWriter, r *http.Request, user *storage.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/recipes/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(action, "/") {
		http.NotFound(w, r)
		return
	}
	if action != "" {
		switch action {
		case "macros":
			s.handleRecipeMacros(w, r, user, id)
		case "pin":
			s.handlePinRecipe(w, r, user, id)
		default:
			http.NotFound(w, r)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		recipe, err := s.store.GetRecipe(r.Context(), user.ID, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "recipe not found", "")
				return
			}
			s.logger.Error("get recipe failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error", "")
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	case http.MethodDelete:
		if err := s.store.DeleteRecipe(r.Context(), user.ID, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "recipe not found", "")
				return
			}
			s.logger.Error("delete recipe failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error", "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleRecipeMacros runs the AI macro estimate for a saved recipe and
// persists the result on the row. Estimates share the import budget.
func (s *Server) handleRecipeMacros(w http.ResponseWriter, r *http.Request, user *storage.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	recipe, err := s.store.GetRecipe(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found", "")
			return
		}
		s.logger.Error("get recipe failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	res, err := s.imports.CalculateMacros(r.Context(), user.ID, recipe.Recipe)
	if err != nil {
		s.writeImportError(w, r, err)
		return
	}
	if err := s.store.UpdateRecipeMacros(r.Context(), user.ID, id, res.Macros); err != nil {
		s.logger.Error("persist macros failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePinRecipe(w http.ResponseWriter, r *http.Request, user *storage.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	recipe, err := s.store.TogglePinRecipe(r.Context(), user.ID, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found", "")
			return
		}
		s.logger.Error("toggle pin failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// writeImportError maps pipeline failures onto HTTP statuses. Rate-limited
// responses carry a Retry-After hint.
func (s *Server) writeImportError(w http.ResponseWriter, r *http.Request, err error) {
	var importErr *types.ImportError
	if !errors.As(err, &importErr) {
		s.logger.Error("import failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	status := importErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("import failed", "path", r.URL.Path, "kind", string(importErr.Kind), "error", err)
	} else {
		s.logger.Info("import rejected", "path", r.URL.Path, "kind", string(importErr.Kind), "error", err)
	}
	if importErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(importErr.RetryAfter.Seconds()))))
	}
	writeError(w, status, importErr.Message, string(importErr.Kind))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
