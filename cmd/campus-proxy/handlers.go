package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Sternrassler/campus-offline/pkg/bgsync"
	"github.com/Sternrassler/campus-offline/pkg/message"
	"github.com/Sternrassler/campus-offline/pkg/metrics"
	"github.com/Sternrassler/campus-offline/pkg/worker"
)

const rpcTimeout = 5 * time.Second

var (
	noWorkerErr = echo.NewHTTPError(http.StatusServiceUnavailable, "service worker not available")
	timeoutErr  = echo.NewHTTPError(http.StatusGatewayTimeout, "worker did not reply in time")
)

func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.httpErrorHandler
	e.Use(middleware.Recover())

	e.GET("/healthz", healthHandler)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	w := e.Group("/__worker")
	w.GET("/state", a.stateHandler)
	w.POST("/message", a.messageHandler)
	w.POST("/sync", a.syncHandler)

	// Everything else goes through the worker.
	e.Any("/*", echo.WrapHandler(a.container))
	return e
}

func healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (a *app) stateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, struct {
		worker.Snapshot
		Online bool     `json:"online"`
		Sync   []string `json:"pending_sync"`
	}{a.container.Snapshot(), a.monitor.Online(), a.manager.Tags()})
}

// messageHandler posts one command to the worker and returns its reply.
func (a *app) messageHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	cmd, err := message.Decode(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()

	// SKIP_WAITING goes to the waiting worker and has no reply.
	if _, ok := cmd.(message.SkipWaiting); ok {
		target := a.container.Waiting()
		if target == nil {
			target = a.container.Controller()
		}
		if target == nil {
			return noWorkerErr
		}
		target.PostMessage(ctx, message.Envelope{Command: cmd})
		return c.NoContent(http.StatusAccepted)
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	port := message.NewPort()
	if err := a.container.PostMessage(ctx, message.Envelope{Command: cmd, Port: port}); err != nil {
		if errors.Is(err, worker.ErrNoController) {
			return noWorkerErr
		}
		return err
	}

	reply, err := port.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return timeoutErr
	case err != nil:
		return err
	case reply.Err != nil:
		return reply.Err
	}
	return c.JSON(http.StatusOK, reply.Payload)
}

// syncHandler runs background sync for the tag in ?tag=, or the default tag.
func (a *app) syncHandler(c echo.Context) error {
	if a.container.Controller() == nil {
		return noWorkerErr
	}
	tag := c.QueryParam("tag")
	if tag == "" {
		tag = a.cfg.WorkerConfig().SyncTag
	}
	if err := a.sync(c.Request().Context(), tag); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   err.Error(),
			"pending": a.manager.Tags(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// httpErrorHandler renders errors as {"error": "..."}.
func (a *app) httpErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := any(err.Error())

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = he.Message
	case errors.Is(err, message.ErrUnknownCommand):
		code = http.StatusBadRequest
	case errors.Is(err, bgsync.ErrUnsupported):
		code = http.StatusNotImplemented
	}

	if code >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]any{"error": msg})
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to write error response")
	}
}
