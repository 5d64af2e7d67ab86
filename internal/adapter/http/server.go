package http

import (
	"net/http"

	"github.com/bnema/arpipe/internal/adapter/http/middleware"
	"github.com/bnema/arpipe/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Server struct {
	router     chi.Router
	handlers   *Handlers
	sseHandler *SSEHandler
	log        zerolog.Logger
}

func NewServer(markers MarkerService, resolver VideoResolver, eventBus *service.EventBus, log zerolog.Logger) *Server {
	log = log.With().Str("component", "http").Logger()

	s := &Server{
		router:     chi.NewRouter(),
		handlers:   NewHandlers(markers, resolver, log),
		sseHandler: NewSSEHandler(eventBus, markers),
		log:        log,
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		middleware.RequestLogger(s.log),
		chimw.Recoverer,
		middleware.SecurityHeaders,
	)

	r.Get("/healthz", s.handlers.Health())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/markers", s.handlers.TriggerMarker())
		r.Get("/markers/jobs/{jobID}", s.handlers.GetJob())

		r.Route("/contents/{contentID}", func(r chi.Router) {
			r.Get("/marker/jobs", s.handlers.ListJobs())
			r.Get("/marker/events", s.sseHandler.Events())
			r.Get("/video", s.handlers.ResolveVideo())
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
