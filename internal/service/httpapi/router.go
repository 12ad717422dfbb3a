package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/auth"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/service/idempotency"
)

const (
	maxBodyBytes   = 1 << 20
	requestTimeout = 15 * time.Second
)

// OrderService — операции над заказами, которые нужны HTTP-слою.
type OrderService interface {
	PlaceOrder(ctx context.Context, raw domain.OrderInput) (domain.PlacedOrder, error)
	CompleteOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// Deps — зависимости HTTP API.
type Deps struct {
	Lessons  domain.LessonRepository
	Orders   domain.OrderRepository
	Timeline domain.TimelineRepository
	Service  OrderService
	Guard    *idempotency.Guard
	Auth     *auth.Authenticator
	Limiter  *RateLimiter
	// AllowedOrigins — белый список CORS; пустой список отключает CORS-заголовки.
	AllowedOrigins []string
	Logger         *log.Entry
}

// Server обслуживает публичный каталог, приём заказов и админку.
type Server struct {
	lessons  domain.LessonRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	service  OrderService
	guard    *idempotency.Guard
	auth     *auth.Authenticator
	limiter  *RateLimiter
	origins  []string
	logger   *log.Entry
}

// NewServer создаёт Server. Guard и Limiter могут быть nil.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &Server{
		lessons:  deps.Lessons,
		orders:   deps.Orders,
		timeline: deps.Timeline,
		service:  deps.Service,
		guard:    deps.Guard,
		auth:     deps.Auth,
		limiter:  deps.Limiter,
		origins:  deps.AllowedOrigins,
		logger:   logger,
	}
}

// Routes собирает chi-роутер со всеми маршрутами.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(corsMiddleware(s.origins))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/lessons", func(r chi.Router) {
		r.Get("/", s.listLessons)
		r.Get("/search", s.searchLessons)
		r.Get("/{id}", s.getLesson)
	})

	r.With(s.limiter.Middleware).Post("/orders", s.submitOrder)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(s.auth))
			r.Get("/orders", s.listOrders)
			r.Get("/orders/{id}", s.getOrder)
			r.Get("/orders/{id}/timeline", s.orderTimeline)
			r.Post("/orders/{id}/done", s.completeOrder)
		})
	})

	return r
}
