package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/loopbook/internal/library"
	"github.com/satindergrewal/loopbook/internal/model"
	"github.com/satindergrewal/loopbook/internal/preview"
)

// maxUpload caps an imported file.
const maxUpload = 256 << 20

type libraryView struct {
	Loops    []model.Loop    `json:"loops"`
	Bands    []model.Band    `json:"bands"`
	Setlists []model.Setlist `json:"setlists"`
	Filter   string          `json:"filter"`
	Visible  []string        `json:"visible"` // ids selected by the filter, in order
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

type filterRequest struct {
	SetlistID string `json:"setlistId" binding:"required"`
}

func (s *Server) getLibrary(c *gin.Context) {
	doc := s.lib.Snapshot()
	filtered := s.lib.FilteredLoops()
	visible := make([]string, len(filtered))
	for i, l := range filtered {
		visible[i] = l.ID
	}
	c.JSON(http.StatusOK, libraryView{
		Loops:    doc.Loops,
		Bands:    doc.Bands,
		Setlists: doc.Setlists,
		Filter:   s.lib.Filter(),
		Visible:  visible,
	})
}

func (s *Server) checkLibrary(c *gin.Context) {
	report, err := s.lib.Check(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) importLoop(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if fh.Size > maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, fmt.Errorf("read upload: %w", err))
		return
	}

	loop, err := s.lib.Import(c.Request.Context(), fh.Filename, uploadType(fh.Header.Get("Content-Type")), data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, loop)
}

// uploadType drops generic content types so the library sniffs the bytes.
func uploadType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "application/octet-stream" {
		return ""
	}
	return mt
}

func (s *Server) saveLoop(c *gin.Context) {
	var loop model.Loop
	if err := c.ShouldBindJSON(&loop); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	loop.ID = c.Param("id")
	if err := s.lib.SaveLoop(c.Request.Context(), loop); err != nil {
		s.fail(c, err)
		return
	}
	saved, _ := s.lib.Loop(loop.ID)
	c.JSON(http.StatusOK, saved)
}

func (s *Server) deleteLoop(c *gin.Context) {
	if err := s.lib.DeleteLoop(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getAudio(c *gin.Context) {
	data, loop, err := s.lib.Audio(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	contentType := loop.FileType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": loop.FileName}))
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) getPreview(c *gin.Context) {
	loop, ok := s.lib.Loop(c.Param("id"))
	if !ok {
		s.fail(c, fmt.Errorf("loop %s: %w", c.Param("id"), library.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, preview.ForLoop(loop))
}

var errTracksDisabled = errors.New("spotify lookup is not configured")

func (s *Server) getTrack(c *gin.Context) {
	loop, ok := s.lib.Loop(c.Param("id"))
	if !ok {
		s.fail(c, fmt.Errorf("loop %s: %w", c.Param("id"), library.ErrNotFound))
		return
	}
	if s.tracks == nil {
		s.fail(c, errTracksDisabled)
		return
	}
	track, err := s.tracks.LookupLoop(loop)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, track)
}

func (s *Server) play(c *gin.Context) {
	state, err := s.lib.Play(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) stop(c *gin.Context) {
	s.lib.Stop()
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Status())
}

func (s *Server) setFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.lib.SetFilter(req.SetlistID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filter": s.lib.Filter()})
}

func (s *Server) addBand(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	band, err := s.lib.AddBand(c.Request.Context(), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, band)
}

func (s *Server) deleteBand(c *gin.Context) {
	if err := s.lib.DeleteBand(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) addSetlist(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	setlist, err := s.lib.AddSetlist(c.Request.Context(), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, setlist)
}

func (s *Server) deleteSetlist(c *gin.Context) {
	if err := s.lib.DeleteSetlist(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
