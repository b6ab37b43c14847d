package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krau/alttext/config"
	"github.com/krau/alttext/pipeline"
)

// Server wires the HTTP layer to the inference pipeline. It holds no model
// state of its own; everything arrives by injection.
type Server struct {
	cfg  config.Config
	pipe *pipeline.Pipeline
}

func New(cfg config.Config, pipe *pipeline.Pipeline) *Server {
	return &Server{cfg: cfg, pipe: pipe}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), CountRequests())

	r.GET("/test", s.TestHandler)
	r.GET("/health", s.HealthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", s.Auth())
	authed.POST("/caption", s.CaptionHandler)
	authed.POST("/alt", s.AltHandler)
	return r
}
