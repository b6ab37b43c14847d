package server

import (
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

func boolQuery(c *gin.Context, name string) bool {
	v, err := strconv.ParseBool(c.Query(name))
	return err == nil && v
}

// readImage pulls the multipart "image" field into memory. It reports the
// upload's declared filename and content type without trusting either.
func readImage(c *gin.Context) (data []byte, filename, contentType string, ok bool) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(400, gin.H{"detail": "no image uploaded"})
		return nil, "", "", false
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(400, gin.H{"detail": "cannot open uploaded file"})
		return nil, "", "", false
	}
	defer file.Close()
	data, err = io.ReadAll(file)
	if err != nil {
		c.JSON(400, gin.H{"detail": "cannot read uploaded file"})
		return nil, "", "", false
	}
	return data, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), true
}

func (s *Server) CaptionHandler(c *gin.Context) {
	data, filename, contentType, ok := readImage(c)
	if !ok {
		return
	}

	started := time.Now()
	captionRes, altRes, err := s.pipe.AltForImage(c.Request.Context(), data, filename, contentType)
	if err != nil {
		slog.Error("Model load failed", slog.String("error", err.Error()))
		c.JSON(500, gin.H{"detail": "model unavailable"})
		return
	}
	observePipeline("caption", started, captionRes, altRes)

	resp := gin.H{
		"alt":   altRes.Alt,
		"words": len(strings.Fields(altRes.Alt)),
	}
	if boolQuery(c, "include_caption") {
		resp["caption"] = captionRes.Caption
	}
	c.JSON(200, resp)
}

func (s *Server) AltHandler(c *gin.Context) {
	data, filename, contentType, ok := readImage(c)
	if !ok {
		return
	}
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(400, gin.H{"detail": "file must be an image"})
		return
	}
	if len(data) == 0 {
		c.JSON(400, gin.H{"detail": "empty file"})
		return
	}

	started := time.Now()
	captionRes, altRes, err := s.pipe.AltForImage(c.Request.Context(), data, filename, contentType)
	if err != nil {
		slog.Error("Model load failed", slog.String("error", err.Error()))
		c.JSON(500, gin.H{"detail": "model unavailable"})
		return
	}
	observePipeline("alt", started, captionRes, altRes)

	switch {
	case boolQuery(c, "raw") || boolQuery(c, "debug"):
		c.JSON(200, gin.H{"alt": altRes.Alt, "raw": altRes.Alt})
	case boolQuery(c, "include_caption"):
		c.JSON(200, gin.H{"alt": altRes.Alt, "caption": captionRes.Caption})
	default:
		c.JSON(200, gin.H{"alt": altRes.Alt})
	}
}

func (s *Server) TestHandler(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "message": "Server is working"})
}

func (s *Server) HealthHandler(c *gin.Context) {
	c.JSON(200, gin.H{"status": "healthy"})
}
