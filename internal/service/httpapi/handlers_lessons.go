package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

type lessonView struct {
	ID             string `json:"id"`
	Topic          string `json:"topic"`
	Location       string `json:"location"`
	Price          int64  `json:"price"`
	RemainingSpace int    `json:"remainingSpace"`
	TotalSpace     int    `json:"totalSpace"`
	Icon           string `json:"icon"`
}

func toLessonView(l domain.Lesson) lessonView {
	return lessonView{
		ID:             l.ID,
		Topic:          l.Topic,
		Location:       l.Location,
		Price:          l.PriceMinor,
		RemainingSpace: l.RemainingSpace,
		TotalSpace:     l.TotalSpace,
		Icon:           l.Icon,
	}
}

func toLessonViews(lessons []domain.Lesson) []lessonView {
	out := make([]lessonView, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, toLessonView(l))
	}
	return out
}

func (s *Server) listLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.lessons.List(r.Context())
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonViews(lessons))
}

func (s *Server) searchLessons(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	lessons, err := s.lessons.Search(r.Context(), q)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonViews(lessons))
}

func (s *Server) getLesson(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !domain.IsLessonID(id) {
		writeError(w, http.StatusNotFound, domain.ErrLessonNotFound.Error())
		return
	}
	lesson, err := s.lessons.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toLessonView(lesson))
}
