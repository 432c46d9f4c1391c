// Package server exposes a camera over HTTP: device info, control settings,
// still snapshots and a websocket preview stream.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/netutil"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/color"
	"github.com/lanikai/cmvision/internal/logging"
	"github.com/lanikai/cmvision/internal/media"
)

var log = logging.DefaultLogger.WithTag("server")

// Camera is what the server needs from an open camera.
type Camera interface {
	Info() capture.DeviceInfo
	Format() capture.Format
	FrameRate() uint32
	Started() bool
	Settings() ([]capture.Control, error)
	Get(name string) (int32, error)
	SetSetting(name string, value int32) error
	Image(format string) (*color.Frame, error)
}

type Options struct {
	// Maximum simultaneous connections, websockets included.
	MaxConnections int

	// Frames buffered per websocket client before old ones are dropped.
	QueueLength int
}

const (
	DefaultMaxConnections = 16
	DefaultQueueLength    = 2
)

// Server serves one camera. The camera is not safe for concurrent use, so
// every call into it goes through mu.
type Server struct {
	opts   Options
	router *gin.Engine

	cam Camera
	mu  sync.Mutex

	sourcesMu sync.Mutex
	sources   map[color.Format]*media.Source

	httpServer *http.Server
}

func New(cam Camera, opts Options) *Server {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = DefaultMaxConnections
	}
	if opts.QueueLength <= 0 {
		opts.QueueLength = DefaultQueueLength
	}

	s := &Server{
		opts:    opts,
		cam:     cam,
		sources: make(map[color.Format]*media.Source),
	}
	s.router = s.setupRoutes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func (s *Server) setupRoutes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/", s.handleIndex)

	api := r.Group("/api")
	api.GET("/info", s.handleInfo)
	api.GET("/settings", s.handleSettings)
	api.GET("/settings/:name", s.handleGetSetting)
	api.PUT("/settings/:name", s.handleSetSetting)
	api.GET("/snapshot.png", s.handleSnapshot(encodePNG))
	api.GET("/snapshot.bmp", s.handleSnapshot(encodeBMP))

	r.GET("/ws", s.handleWebsocket)
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler returns the HTTP handler, for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	log.Info("serving on http://%s/", l.Addr())
	err := s.httpServer.Serve(netutil.LimitListener(l, s.opts.MaxConnections))
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown disconnects preview clients and stops the HTTP server. It does not
// close the camera.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sourcesMu.Lock()
	for format, src := range s.sources {
		src.Close()
		delete(s.sources, format)
	}
	s.sourcesMu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// source returns the frame source for format, creating it on first use. Its
// capture loop only runs while a client is watching.
func (s *Server) source(format color.Format) *media.Source {
	s.sourcesMu.Lock()
	defer s.sourcesMu.Unlock()

	src, ok := s.sources[format]
	if !ok {
		name := format.String()
		src = media.NewSource(func() (*color.Frame, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.cam.Image(name)
		})
		s.sources[format] = src
	}
	return src
}
