// Package web provides an HTTP status server for the sentry-node daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/status"
)

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())
	// Dashboards on other hosts poll the JSON endpoints.
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))
	engine.SetHTMLTemplate(indexTmpl)

	s := &Server{engine: engine, tracker: tracker}
	engine.GET("/", s.handleIndex)
	engine.GET("/index.html", s.handleIndex)
	engine.GET("/index.json", s.handleJSON)
	engine.GET("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: engine,
	}
	return s
}

// Handler returns the HTTP handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index", newPage(s.tracker.Snapshot()))
}

func (s *Server) handleJSON(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", status.FormatJSON(s.tracker.Snapshot()))
}

// handleHealth reports 503 until the coordinator has completed an
// iteration, and while the transport link is down.
func (s *Server) handleHealth(c *gin.Context) {
	snap := s.tracker.Snapshot()
	code, state := http.StatusOK, "healthy"
	if !snap.Ready || !snap.LinkUp {
		code, state = http.StatusServiceUnavailable, "degraded"
	}
	c.JSON(code, gin.H{
		"status":    state,
		"ready":     snap.Ready,
		"link_up":   snap.LinkUp,
		"mode":      snap.Node.Mode.String(),
		"timestamp": snap.Now.UTC().Format(time.RFC3339),
	})
}

// requestLogger logs each request at debug level; errors are raised.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		log.WithLevel(requestLevel(c.Request.URL.Path, code)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", code).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// requestLevel picks the log level for a finished request. A degraded
// /health answers 503 on every poll while the link is down, so it stays
// at debug.
func requestLevel(path string, code int) zerolog.Level {
	switch {
	case path == "/health" && code == http.StatusServiceUnavailable:
		return zerolog.DebugLevel
	case code >= 500:
		return zerolog.ErrorLevel
	case code >= 400:
		return zerolog.WarnLevel
	}
	return zerolog.DebugLevel
}
