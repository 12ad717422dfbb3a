package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type lineItemView struct {
	ID  string `json:"id"`
	Qty int    `json:"qty"`
}

type orderView struct {
	ID          string         `json:"id"`
	Number      string         `json:"orderNumber"`
	Name        string         `json:"name"`
	Phone       string         `json:"phone"`
	Lessons     []lineItemView `json:"lessons"`
	Notes       string         `json:"notes"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

type timelineEventView struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurredAt"`
}

func toOrderView(o domain.Order) orderView {
	items := make([]lineItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItemView{ID: it.LessonID, Qty: it.Qty})
	}
	v := orderView{
		ID:        o.ID,
		Number:    o.Number,
		Name:      o.Name,
		Phone:     o.Phone,
		Lessons:   items,
		Notes:     o.Notes,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
	}
	if !o.CompletedAt.IsZero() {
		at := o.CompletedAt
		v.CompletedAt = &at
	}
	return v
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}
	var req loginRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.logger.WithField("username", req.Username).Warn("admin login rejected")
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token.Token, ExpiresAt: token.ExpiresAt})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []domain.Order
		err    error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		orders, err = s.orders.Search(r.Context(), q)
	} else {
		orders, err = s.orders.ListAll(r.Context(), true)
	}
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (s *Server) orderTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orders.Get(r.Context(), id); err != nil {
		writeDomainError(w, s.logger, err)
		return
	}

	out := []timelineEventView{}
	if s.timeline != nil {
		events, err := s.timeline.List(r.Context(), id)
		if err != nil {
			writeDomainError(w, s.logger, err)
			return
		}
		for _, e := range events {
			out = append(out, timelineEventView{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) completeOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := s.service.CompleteOrder(r.Context(), id)
	if err != nil {
		writeDomainError(w, s.logger, err)
		return
	}
	if claims, ok := claimsFrom(r.Context()); ok {
		s.logger.WithField("order_id", id).WithField("admin", claims.Subject).Info("order marked done")
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}
