package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wem-technology/ios-webxr-sub000/internal/metrics"
)

// shutdownTimeout bounds graceful shutdown of open connections.
const shutdownTimeout = 5 * time.Second

// Status is the body of GET /api/status.
type Status struct {
	DeviceID     string `json:"device_id"`
	Running      bool   `json:"running"`
	CameraAccess bool   `json:"camera_access"`
}

// Server exposes a Coordinator over HTTP: the page socket at /bridge plus
// health, status and Prometheus endpoints.
type Server struct {
	coord  *Coordinator
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(coord *Coordinator) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{coord: coord, router: gin.New()}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/stop", s.handleStop)

	s.router.GET("/bridge", func(c *gin.Context) {
		s.coord.ServeWS(c.Request.Context(), c.Writer, c.Request)
	})
}

// Handler returns the router, for tests and for mounting elsewhere.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, Status{
		DeviceID:     DeviceID,
		Running:      s.coord.Running(),
		CameraAccess: s.coord.CameraAccess(),
	})
}

func (s *Server) handleStop(c *gin.Context) {
	if !s.coord.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": "tracking session is not running"})
		return
	}
	if err := s.coord.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Run serves on addr until ctx is done, then shuts down gracefully and
// closes the coordinator.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.coord.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	// Ask the page to reload before the socket goes away.
	s.coord.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge server shutdown: %w", err)
	}
	slog.Info("bridge server stopped")
	return nil
}
