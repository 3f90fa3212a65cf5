// Package api exposes the library and the playback engine over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/loopbook/internal/library"
	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/playback"
	"github.com/satindergrewal/loopbook/internal/preview"
)

// StatusSource reports what the engine is doing.
type StatusSource interface {
	Status() playback.State
}

// TrackSource looks up Spotify details for a loop's link.
type TrackSource interface {
	LookupLoop(loop model.Loop) (preview.Track, error)
}

// Server holds the HTTP handlers.
type Server struct {
	lib     *library.Library
	status  StatusSource
	monitor http.Handler
	tracks  TrackSource
	log     *slog.Logger
}

// New creates the API server. monitor may be nil to disable /offer.
func New(lib *library.Library, status StatusSource, monitor http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		lib:     lib,
		status:  status,
		monitor: monitor,
		log:     logger.With(slog.String("component", "api")),
	}
}

// WithTracks enables GET /api/loops/:id/track.
func (s *Server) WithTracks(t TrackSource) *Server {
	s.tracks = t
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	api := r.Group("/api")
	api.GET("/library", s.getLibrary)
	api.GET("/check", s.checkLibrary)
	api.GET("/status", s.getStatus)
	api.POST("/stop", s.stop)
	api.PUT("/filter", s.setFilter)

	loops := api.Group("/loops")
	loops.POST("", s.importLoop)
	loops.PUT("/:id", s.saveLoop)
	loops.DELETE("/:id", s.deleteLoop)
	loops.GET("/:id/audio", s.getAudio)
	loops.GET("/:id/preview", s.getPreview)
	loops.GET("/:id/track", s.getTrack)
	loops.POST("/:id/play", s.play)

	api.POST("/bands", s.addBand)
	api.DELETE("/bands/:id", s.deleteBand)
	api.POST("/setlists", s.addSetlist)
	api.DELETE("/setlists/:id", s.deleteSetlist)

	if s.monitor != nil {
		r.POST("/offer", gin.WrapH(s.monitor))
		r.OPTIONS("/offer", gin.WrapH(s.monitor))
	}
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, library.ErrNotFound), errors.Is(err, playback.ErrNotFound),
		errors.Is(err, preview.ErrNoTrack), errors.Is(err, preview.ErrTrackNotFound):
		return http.StatusNotFound
	case errors.Is(err, errTracksDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, preview.ErrLookup):
		return http.StatusBadGateway
	case errors.Is(err, library.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrDecodeFault):
		return http.StatusUnprocessableEntity
	case errors.Is(err, playback.ErrSuperseded):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError || code == http.StatusBadGateway {
		s.log.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
