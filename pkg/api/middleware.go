package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// requestLogging logs one line per request
func requestLogging(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			evt := logger.Debug()
			if status >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.Str("method", req.Method).
				Str("uri", req.RequestURI).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return nil
		}
	}
}

// recoverer turns a handler panic into a 500 reply
func recoverer(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					logger.Error().Err(perr).Bytes("stack", debug.Stack()).Msg("handler panic")
					err = DataResponse(c, http.StatusInternalServerError, "Something went wrong")
				}
			}()
			return next(c)
		}
	}
}
