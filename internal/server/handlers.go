package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies; a credential set is a few KB at most.
const maxBodyBytes = 1 << 20

type statusMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Service   string `json:"service"`
	HasConfig bool   `json:"hasConfig"`
	Users     int    `json:"users"`
	Busy      bool   `json:"busy"`
}

type userView struct {
	ID            int    `json:"id"`
	AuthSessionID string `json:"authSessionId"`
	worklog.Content
}

type usersResponse struct {
	Status    string     `json:"status"`
	UserCount int        `json:"userCount"`
	Users     []userView `json:"users"`
}

type screenshotView struct {
	ID          int64     `json:"id"`
	Description string    `json:"description"`
	Size        int       `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

type runResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	RunID       string   `json:"runId,omitempty"`
	Steps       []string `json:"steps"`
	Screenshots []string `json:"screenshots"`
}

type summaryResponse struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string, err error) {
	if err != nil {
		s.logger.Warn(msg, zap.Error(err))
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	writeJSON(w, code, statusMessage{Status: "error", Message: msg})
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (worklog.Credentials, bool) {
	var creds worklog.Credentials
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Could not read request body", err)
		return creds, false
	}
	if err := json.Unmarshal(body, &creds); err != nil {
		s.fail(w, http.StatusBadRequest, "Invalid configuration JSON", err)
		return creds, false
	}
	if err := creds.Validate(); err != nil {
		s.fail(w, http.StatusBadRequest, err.Error(), nil)
		return creds, false
	}
	return creds.WithDefaults(s.defaults), true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Warn("Health check could not count users.", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "UP",
		Timestamp: s.now().UnixMilli(),
		Service:   serviceName,
		HasConfig: n > 0,
		Users:     n,
		Busy:      s.runner.Busy(),
	})
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	if err := s.store.Save(r.Context(), creds); err != nil {
		s.fail(w, http.StatusBadRequest, "Could not save configuration", err)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage{Status: "success", Message: "Configuration saved for scheduled tasks!"})
}

// handleRun saves the posted credentials, then runs them immediately.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	creds, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	if err := s.store.Save(r.Context(), creds); err != nil {
		s.fail(w, http.StatusBadRequest, "Could not save configuration", err)
		return
	}

	res := s.runner.RunOne(r.Context(), creds)
	resp := runResponse{
		Status:      "success",
		Message:     res.Message,
		RunID:       res.RunID,
		Steps:       res.Steps,
		Screenshots: make([]string, 0, len(res.Screenshots)),
	}
	for _, sh := range res.Screenshots {
		resp.Screenshots = append(resp.Screenshots, sh.Description)
	}
	code := http.StatusOK
	if !res.Succeeded() {
		resp.Status = "error"
		code = http.StatusBadRequest
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.runner.RunAll(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Batch did not complete", err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		Status:    "success",
		Total:     sum.Total,
		Succeeded: sum.Succeeded,
		Failed:    sum.Failed,
		Skipped:   sum.Skipped,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Could not load users", err)
		return
	}
	resp := usersResponse{Status: "success", UserCount: len(users), Users: make([]userView, 0, len(users))}
	for i, u := range users {
		resp.Users = append(resp.Users, userView{ID: i + 1, AuthSessionID: u.MaskedKey(), Content: u.Content})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScreenshots addresses users by their 1-based position in /api/users
// so session tokens never appear in URLs.
func (s *Server) handleScreenshots(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		s.fail(w, http.StatusBadRequest, "User id must be a positive integer", nil)
		return
	}
	limit := store.DefaultRecentLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if limit, err = strconv.Atoi(q); err != nil || limit < 1 {
			s.fail(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
	}

	users, err := s.store.LoadAll(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Could not load users", err)
		return
	}
	if id > len(users) {
		s.fail(w, http.StatusNotFound, fmt.Sprintf("No user with id %d", id), nil)
		return
	}

	shots, err := s.store.Recent(r.Context(), users[id-1].Key(), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "Could not load screenshots", err)
		return
	}
	views := make([]screenshotView, 0, len(shots))
	for _, sh := range shots {
		views = append(views, screenshotView{ID: sh.ID, Description: sh.Description, Size: len(sh.Data), CreatedAt: sh.CreatedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadRequest, "Could not count users", err)
		return
	}
	if err := s.store.Reset(r.Context()); err != nil {
		s.fail(w, http.StatusBadRequest, "Could not reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, statusMessage{
		Status:  "success",
		Message: fmt.Sprintf("Database reset successfully. Deleted %d user configuration(s).", n),
	})
}
