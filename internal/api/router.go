package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/yegors/voxdesk/internal/websocket"
	"github.com/yegors/voxdesk/pkg/logger"
)

// Router builds the HTTP routes of the control surface
type Router struct {
	handler        *Handler
	wsServer       *websocket.Server
	allowedOrigins []string
	logger         *logger.Logger
}

// NewRouter creates a new router
func NewRouter(handler *Handler, wsServer *websocket.Server, allowedOrigins []string, log *logger.Logger) *Router {
	return &Router{
		handler:        handler,
		wsServer:       wsServer,
		allowedOrigins: allowedOrigins,
		logger:         log.Named("router"),
	}
}

// Routes returns the root handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(rt.corsOptions()))

	r.Get("/health", rt.handler.Health)

	r.Route("/api/v1/assistant", func(r chi.Router) {
		r.Get("/status", rt.handler.GetStatus)
		r.Post("/connect", rt.handler.Connect)
		r.Post("/disconnect", rt.handler.Disconnect)
		r.Post("/messages", rt.handler.SendMessage)
		r.Post("/recording/start", rt.handler.StartRecording)
		r.Post("/recording/stop", rt.handler.StopRecording)
		r.Post("/response/cancel", rt.handler.CancelResponse)
		r.Post("/instructions/reload", rt.handler.ReloadInstructions)
		r.Get("/tasks", rt.handler.GetTasks)
		r.Get("/calendar", rt.handler.GetCalendar)
		if rt.wsServer != nil {
			r.Get("/events", rt.wsServer.HandleConnection)
		}
	})

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Duration("duration", time.Since(start)))
	})
}

// corsOptions allows the configured origins. An empty list allows no
// cross-origin requests.
func (rt *Router) corsOptions() cors.Options {
	opts := cors.Options{
		AllowedOrigins: rt.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}
	if len(rt.allowedOrigins) == 0 {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return false }
	}
	return opts
}
