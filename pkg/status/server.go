// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package status serves the read-only node API.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/pipeline-agent/pkg/constants"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/logger"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/pipeline-agent/pkg/sentry"
)

// Provider supplies the agent status. Implementations return copies the
// server may hold on to.
type Provider interface {
	Status(ctx context.Context) (Summary, error)
}

// ReloadSource supplies reload statistics. *metrics.Store implements it.
type ReloadSource interface {
	Instance() metrics.Stats
	Pipeline(id string) metrics.Stats
	Pipelines() []string
}

// Server is the status API.
type Server struct {
	reloads  ReloadSource
	status   Provider
	engine   *gin.Engine
	server   *http.Server
	listener net.Listener
	log      *zap.SugaredLogger
}

// NewServer builds the server. Call Start to begin serving.
func NewServer(addr string, status Provider, reloads ReloadSource) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		status:  status,
		reloads: reloads,
		log:     logger.For(logger.ComponentStatusAPI),
	}

	router := gin.New()
	router.Use(s.logRequests(), gin.CustomRecovery(s.recover))

	node := router.Group("/_node")
	{
		node.GET("", s.handleNode)
		node.GET("/pipelines", s.handlePipelines)
		node.GET("/pipelines/:id", s.handlePipeline)
		node.GET("/stats/reloads", s.handleReloads)
	}

	s.engine = router
	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: constants.APIReadTimeout,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr returns the listening address once Start returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}

	return s.listener.Addr().String()
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeError, s.log, "[StatusAPI.Start] Status API stopped: %v", err)
		}
	}()

	s.log.Infof("Status API listening on %s", listener.Addr())

	return nil
}

// Shutdown stops accepting requests and waits for running ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down status API: %w", err)
	}

	s.log.Info("Status API stopped")

	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		s.log.Debugw("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.log.Errorf("Handler for %s panicked: %v", c.Request.URL.Path, recovered)
	handleInternalServerError(c, fmt.Errorf("%v", recovered))
}

func (s *Server) summary(c *gin.Context) (Summary, bool) {
	summary, err := s.status.Status(c.Request.Context())
	if err != nil {
		s.log.Warnf("Failed to read status: %v", err)
		handleUnavailable(c, err)

		return Summary{}, false
	}

	return summary, true
}

func (s *Server) handleNode(c *gin.Context) {
	summary, ok := s.summary(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, summary.Node)
}

func (s *Server) handlePipelines(c *gin.Context) {
	summary, ok := s.summary(c)
	if !ok {
		return
	}

	pipelines := summary.Pipelines
	if pipelines == nil {
		pipelines = []PipelineSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"pipelines":  pipelines,
		"last_cycle": summary.LastCycle,
	})
}

func (s *Server) handlePipeline(c *gin.Context) {
	summary, ok := s.summary(c)
	if !ok {
		return
	}

	id := c.Param("id")

	for _, p := range summary.Pipelines {
		if p.ID == id {
			c.JSON(http.StatusOK, p)

			return
		}
	}

	handleNotFound(c, id)
}

func (s *Server) handleReloads(c *gin.Context) {
	stats := ReloadStats{
		Reloads:   s.reloads.Instance(),
		Pipelines: make(map[string]metrics.Stats),
	}

	for _, id := range s.reloads.Pipelines() {
		stats.Pipelines[id] = s.reloads.Pipeline(id)
	}

	c.JSON(http.StatusOK, stats)
}

func handleInternalServerError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   err.Error(),
		"status":  http.StatusInternalServerError,
		"message": "The server had an internal error.",
	})
}

func handleUnavailable(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error":   err.Error(),
		"status":  http.StatusServiceUnavailable,
		"message": "The agent status is not available right now.",
	})
}

func handleNotFound(c *gin.Context, id string) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
		"error":   fmt.Sprintf("pipeline %s not found", id),
		"status":  http.StatusNotFound,
		"message": "The requested pipeline is not running.",
	})
}
