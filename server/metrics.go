package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/krau/alttext/pipeline"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alttext_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alttext_pipeline_duration_seconds",
		Help:    "Wall time of the two-stage pipeline per handler.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"handler"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alttext_fallbacks_total",
		Help: "Degraded answers by pipeline stage.",
	}, []string{"stage"})
)

func CountRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		requestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func observePipeline(handler string, started time.Time, captionRes pipeline.CaptionResult, altRes pipeline.AltResult) {
	pipelineDuration.WithLabelValues(handler).Observe(time.Since(started).Seconds())
	if captionRes.Fallback {
		fallbacksTotal.WithLabelValues("caption").Inc()
	}
	if altRes.Source == pipeline.SourceCaption || altRes.Source == pipeline.SourceCaptionTruncated {
		fallbacksTotal.WithLabelValues("refine").Inc()
	}
}
