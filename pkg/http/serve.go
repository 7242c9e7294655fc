package xhttp

import (
	"os"
	"time"

	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

// Options are the server knobs the binaries actually tune. Everything else
// is fixed in NewServer.
type Options struct {
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
	CompressionLevel   int
}

func DefaultOptions() Options {
	return Options{
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		IdleTimeout:        10 * time.Second,
		ReadBufferSize:     4 * 1024, // also the max header size
		WriteBufferSize:    4 * 1024,
		MaxRequestBodySize: 1 << 20, // callbacks and payment requests are small
		Concurrency:        10_000,
		CompressionLevel:   fasthttp.CompressBestSpeed,
	}
}

type Engine struct {
	*Router
	*Server
	opts  Options
	chain []MiddlewareFunc
}

func NewServer(opts Options) *Engine {
	return &Engine{
		Router: NewRouter(),
		Server: &fasthttp.Server{
			Name:                         opts.Name,
			Handler:                      NotFoundHandler,
			ErrorHandler:                 errorHandler,
			ReadTimeout:                  opts.ReadTimeout,
			WriteTimeout:                 opts.WriteTimeout,
			IdleTimeout:                  opts.IdleTimeout,
			ReadBufferSize:               opts.ReadBufferSize,
			WriteBufferSize:              opts.WriteBufferSize,
			MaxRequestBodySize:           opts.MaxRequestBodySize,
			Concurrency:                  opts.Concurrency,
			TCPKeepalive:                 true,
			DisablePreParseMultipartForm: true,
			NoDefaultServerHeader:        true,
			NoDefaultDate:                true,
			NoDefaultContentType:         true,
			CloseOnShutdown:              true,
			Logger:                       logger.GetLogger(),
		},
		opts: opts,
	}
}

// CreateServer returns an engine with DefaultOptions.
func CreateServer() *Engine {
	return NewServer(DefaultOptions())
}

func (e *Engine) Options() Options {
	return e.opts
}

// Use appends a middleware. The first one registered is the outermost.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.chain = append(e.chain, middleware)
}

// DoRouting installs the router behind the middleware chain. It can be
// called more than once.
func (e *Engine) DoRouting() error {
	for method, paths := range e.Router.List() {
		for _, p := range paths {
			logger.Debug("[xhttp] route", "method", method, "path", p)
		}
	}

	h := e.Router.Handler
	for i := len(e.chain) - 1; i >= 0; i-- {
		h = e.chain[i](h)
	}
	e.Server.Handler = h
	logger.Info("[xhttp] routing ready", "middlewares", len(e.chain))
	return nil
}

func (e *Engine) ListenAndServe(addr string) error {
	if err := e.DoRouting(); err != nil {
		return err
	}
	logger.Info("[xhttp] listening", "addr", addr, "name", e.opts.Name)
	return e.Server.ListenAndServe(addr)
}

// Shutdown waits for in-flight requests and closes open connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] shutting down", "pid", os.Getpid())
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] shutdown failed", "error", err)
	}
}

func errorHandler(ctx *RequestCtx, err error) {
	logger.Warn("[xhttp] bad request", "error", err, "ip", ctx.RemoteIP().String())
	writeJSONError(ctx, StatusBadRequest, StatusText(StatusBadRequest))
}
