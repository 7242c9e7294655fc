package xhttp

import (
	"slices"
	"strings"
	"time"

	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/valyala/fasthttp"
)

// UserIDKey is the request value holding the authenticated customer id.
const UserIDKey = "user_id"

const slowThreshold = 500 * time.Millisecond

var quietPaths = []string{"/health", "/metrics"}

type MiddlewareFunc func(next RequestHandler) RequestHandler
type RequestCtx = fasthttp.RequestCtx
type RequestHandler = fasthttp.RequestHandler

// TimeoutMiddleware answers 408 when a handler runs past timeout. Requests
// to the exempt paths are never cut short.
func TimeoutMiddleware(timeout time.Duration, exempt ...string) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		limited := fasthttp.TimeoutWithCodeHandler(next, timeout, StatusText(StatusRequestTimeout), StatusRequestTimeout)
		return func(ctx *RequestCtx) {
			if slices.Contains(exempt, string(ctx.Path())) {
				next(ctx)
				return
			}
			limited(ctx)
		}
	}
}

func CompressMiddleware(level int) MiddlewareFunc {
	return func(next RequestHandler) RequestHandler {
		return fasthttp.CompressHandlerBrotliLevel(next, level, level)
	}
}

func RecoverMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[xhttp] panic recovered", "panic", r, "path", string(ctx.Path()))
				writeJSONError(ctx, StatusInternalServerError, "internal error")
			}
		}()
		next(ctx)
	}
}

// RequestLoggerMiddleware writes one line per request. 5xx logs at error,
// 4xx and slow requests at warn.
func RequestLoggerMiddleware(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		path := string(ctx.Path())
		if shouldSkip(path) {
			next(ctx)
			return
		}

		start := time.Now()
		next(ctx)
		latency := time.Since(start)

		status := ctx.Response.StatusCode()
		fields := requestFields(ctx, path, latency)
		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400 || latency > slowThreshold:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

func requestFields(ctx *RequestCtx, path string, latency time.Duration) []any {
	fields := []any{
		"status", ctx.Response.StatusCode(),
		"method", string(ctx.Method()),
		"path", path,
		"latency", latency.String(),
		"ip", ctx.RemoteIP().String(),
	}
	if rid := requestID(ctx); rid != "" {
		fields = append(fields, "request_id", rid)
	}
	if uid, ok := ctx.UserValue(UserIDKey).(int64); ok {
		fields = append(fields, "user_id", uid)
	}
	return fields
}

func shouldSkip(p string) bool {
	for _, q := range quietPaths {
		if p == q || strings.HasPrefix(p, q+"/") {
			return true
		}
	}
	return false
}

func requestID(ctx *RequestCtx) string {
	return string(ctx.Request.Header.Peek("X-Request-ID"))
}
