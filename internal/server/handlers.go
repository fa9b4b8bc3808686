package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uxtest/uxtest/internal/event"
	"github.com/uxtest/uxtest/internal/ingest"
	"github.com/uxtest/uxtest/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var testsCount int
	row := s.store.DB().QueryRowContext(r.Context(), "SELECT COUNT(*) FROM tests")
	if err := row.Scan(&testsCount); err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var dbSize int64
	row = s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	_ = row.Scan(&dbSize)

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		TestsCount:    testsCount,
		DBSizeBytes:   dbSize,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// handleEvents is the batch ingestion endpoint. A malformed batch is
// rejected wholesale with 400 before any side effect; individual storage
// faults are reported per event in the 200 response.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var req event.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body. Expected { events: [...] }")
		return
	}

	result, err := s.ingest.ProcessBatch(r.Context(), req.Events)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidBatch) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("batch processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSessionEvents returns the ordered raw event log for a session, for
// debugging.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	events, err := s.store.SessionEvents(r.Context(), sessionID)
	if err != nil {
		s.log.Error("failed to fetch session events", "sessionId", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	result, err := s.analytics.ComputeTest(r.Context(), testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		s.log.Error("failed to compute analytics", "testId", testID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuildSessions(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	if _, err := s.store.GetTest(r.Context(), testID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	replayed, err := s.ingest.RebuildSessions(r.Context(), testID)
	if err != nil {
		s.log.Error("projection rebuild failed", "testId", testID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"replayed": replayed})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		projectID = "demo-project"
	}

	tests, err := s.store.ListTests(r.Context(), projectID)
	if err != nil {
		s.log.Error("failed to list tests", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tests == nil {
		tests = []*store.TestSummary{}
	}

	writeJSON(w, http.StatusOK, tests)
}

type testRequest struct {
	ProjectID    *string  `json:"projectId"`
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	TargetURL    *string  `json:"targetUrl"`
	Instructions *string  `json:"instructions"`
	TimeoutMs    *int64   `json:"timeoutMs"`
	Variants     []string `json:"variants"`
	IsActive     *bool    `json:"isActive"`
	Tasks        []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"tasks"`
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ProjectID == nil || *req.ProjectID == "" || req.Name == nil || *req.Name == "" {
		writeError(w, http.StatusBadRequest, "projectId and name are required")
		return
	}

	test := &store.Test{
		ID:        "test-" + uuid.NewString(),
		ProjectID: *req.ProjectID,
		Name:      *req.Name,
		Variants:  req.Variants,
		IsActive:  true,
	}
	if req.Description != nil {
		test.Description = *req.Description
	}
	if req.TargetURL != nil {
		test.TargetURL = *req.TargetURL
	}
	if req.Instructions != nil {
		test.Instructions = *req.Instructions
	}
	if req.TimeoutMs != nil {
		test.TimeoutMs = *req.TimeoutMs
	}
	if len(test.Variants) == 0 {
		test.Variants = []string{"A"}
	}
	for _, t := range req.Tasks {
		test.Tasks = append(test.Tasks, store.Task{
			ID:          "task-" + uuid.NewString(),
			Title:       t.Title,
			Description: t.Description,
		})
	}

	if err := s.store.CreateTest(r.Context(), test); err != nil {
		s.log.Error("failed to create test", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, test)
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	test, err := s.store.GetTest(r.Context(), testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, test)
}

func (s *Server) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	test, err := s.store.GetTest(r.Context(), testID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != nil {
		test.Name = *req.Name
	}
	if req.Description != nil {
		test.Description = *req.Description
	}
	if req.TargetURL != nil {
		test.TargetURL = *req.TargetURL
	}
	if req.Instructions != nil {
		test.Instructions = *req.Instructions
	}
	if req.TimeoutMs != nil {
		test.TimeoutMs = *req.TimeoutMs
	}
	if req.Variants != nil {
		test.Variants = req.Variants
	}
	if req.IsActive != nil {
		test.IsActive = *req.IsActive
	}
	if req.Tasks != nil {
		test.Tasks = nil
		for _, t := range req.Tasks {
			test.Tasks = append(test.Tasks, store.Task{
				ID:          "task-" + uuid.NewString(),
				Title:       t.Title,
				Description: t.Description,
			})
		}
	}

	if err := s.store.UpdateTest(r.Context(), test); err != nil {
		s.log.Error("failed to update test", "testId", testID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	if err := s.store.DeleteTest(r.Context(), testID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if projects == nil {
		projects = []*store.Project{}
	}

	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ID == "" {
		req.ID = "project-" + uuid.NewString()
	}

	project, err := s.store.CreateProject(r.Context(), req.ID, req.Name)
	if err != nil {
		s.log.Error("failed to create project", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, project)
}
