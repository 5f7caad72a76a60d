package api

import (
	"net/http"

	"github.com/lectern-ai/lectern/internal/index"
	"github.com/lectern-ai/lectern/internal/log"
)

// CoursesHandler handles the course statistics endpoint.
type CoursesHandler struct {
	index  Index
	logger log.Logger
}

// NewCoursesHandler creates a courses handler.
func NewCoursesHandler(index Index, logger log.Logger) *CoursesHandler {
	return &CoursesHandler{index: index, logger: logger}
}

// RegisterRoutes registers course routes on the given mux.
func (h *CoursesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/courses", h.list)
}

// CoursesResponse is the body of GET /api/courses.
type CoursesResponse struct {
	TotalCourses int                 `json:"total_courses"`
	CourseTitles []string            `json:"course_titles"`
	Courses      []index.CourseStats `json:"courses"`
}

func (h *CoursesHandler) list(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		h.logger.Error("courses handler not configured")
		writeError(w, http.StatusInternalServerError, "not_configured", "")
		return
	}

	stats, err := h.index.ListCourses(r.Context())
	if err != nil {
		h.logger.Error("failed to list courses", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "")
		return
	}

	titles := make([]string, len(stats))
	for i, cs := range stats {
		titles[i] = cs.Title
	}
	if stats == nil {
		stats = []index.CourseStats{}
	}
	writeJSON(w, http.StatusOK, CoursesResponse{
		TotalCourses: len(stats),
		CourseTitles: titles,
		Courses:      stats,
	})
}
