package server

import (
	"bytes"
	_ "embed"
	"image"
	"image/png"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"

	"github.com/lanikai/cmvision/internal/capture"
	"github.com/lanikai/cmvision/internal/color"
)

//go:embed static/index.html
var indexHTML []byte

type infoResponse struct {
	Path        string `json:"path"`
	Driver      string `json:"driver"`
	Card        string `json:"card"`
	BusInfo     string `json:"bus_info"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	PixelFormat string `json:"pixel_format"`
	FrameRate   uint32 `json:"fps"`
	Streaming   bool   `json:"streaming"`
}

type setting struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Value    int32  `json:"value"`
	Default  int32  `json:"default"`
	Min      int32  `json:"min"`
	Max      int32  `json:"max"`
	Step     int32  `json:"step"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

func newSetting(c capture.Control) setting {
	return setting{
		Name:     c.Name,
		Kind:     c.Kind.String(),
		Value:    c.Value,
		Default:  c.Default,
		Min:      c.Min,
		Max:      c.Max,
		Step:     c.Step,
		ReadOnly: c.ReadOnly,
	}
}

type valueRequest struct {
	Value *int32 `json:"value" binding:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, capture.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, capture.ErrInvalidState), errors.Is(err, capture.ErrDevice):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= 500 {
		log.Warn("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, errorResponse{err.Error()})
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleInfo(c *gin.Context) {
	s.mu.Lock()
	info := s.cam.Info()
	format := s.cam.Format()
	resp := infoResponse{
		Path:        info.Path,
		Driver:      info.Driver,
		Card:        info.Card,
		BusInfo:     info.BusInfo,
		Width:       format.Width,
		Height:      format.Height,
		PixelFormat: format.PixelFormat.String(),
		FrameRate:   s.cam.FrameRate(),
		Streaming:   s.cam.Started(),
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettings(c *gin.Context) {
	s.mu.Lock()
	controls, err := s.cam.Settings()
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}

	settings := make([]setting, 0, len(controls))
	for _, ctrl := range controls {
		settings = append(settings, newSetting(ctrl))
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) handleGetSetting(c *gin.Context) {
	name := c.Param("name")

	s.mu.Lock()
	value, err := s.cam.Get(name)
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value})
}

func (s *Server) handleSetSetting(c *gin.Context) {
	name := c.Param("name")

	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	s.mu.Lock()
	err := s.cam.SetSetting(name, *req.Value)
	var value int32
	if err == nil {
		value, err = s.cam.Get(name)
	}
	s.mu.Unlock()
	if err != nil {
		abort(c, err)
		return
	}

	log.Info("%s set to %d", name, value)
	c.JSON(http.StatusOK, gin.H{"name": name, "value": value})
}

type encoder struct {
	contentType string
	encode      func(io.Writer, image.Image) error
}

var (
	encodePNG = encoder{"image/png", png.Encode}
	encodeBMP = encoder{"image/bmp", bmp.Encode}
)

// handleSnapshot captures one frame and returns it as an image. The
// "format" query parameter selects the conversion, rgb by default.
func (s *Server) handleSnapshot(enc encoder) gin.HandlerFunc {
	return func(c *gin.Context) {
		format, err := color.ParseFormat(c.DefaultQuery("format", "rgb"))
		if err != nil {
			abort(c, err)
			return
		}

		s.mu.Lock()
		frame, err := s.cam.Image(format.String())
		s.mu.Unlock()
		if err != nil {
			abort(c, err)
			return
		}

		var buf bytes.Buffer
		if err := enc.encode(&buf, frame.Image()); err != nil {
			abort(c, err)
			return
		}
		c.Data(http.StatusOK, enc.contentType, buf.Bytes())
	}
}
