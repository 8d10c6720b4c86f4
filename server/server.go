// Package server exposes the ops HTTP surface: health, Prometheus
// metrics and a read-only snapshot of the live conversations.
package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/internal/version"
)

// ConversationSource serves point-in-time copies of the live state.
type ConversationSource interface {
	Snapshot(ctx context.Context) ([]*conversations.Conversation, error)
}

// Server is the ops HTTP server. It never touches pipeline state
// directly; everything goes through the snapshot interface.
type Server struct {
	echoServer *echo.Echo
	addr       string
	source     ConversationSource
}

// New creates the ops server.
func New(addr string, source ConversationSource, registry *prometheus.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echoServer: e, addr: addr, source: source}

	e.GET("/healthz", s.healthz)
	e.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	e.GET("/api/v1/conversations", s.listConversations)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echoServer.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echoServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

type conversationList struct {
	Count         int                           `json:"count"`
	Conversations []*conversations.Conversation `json:"conversations"`
}

func (s *Server) listConversations(c echo.Context) error {
	convs, err := s.source.Snapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].FirstSeqID() < convs[j].FirstSeqID()
	})
	return c.JSON(http.StatusOK, conversationList{
		Count:         len(convs),
		Conversations: convs,
	})
}
