package xhttp

import (
	"strconv"

	"github.com/fasthttp/router"
)

type Router = router.Router

// NewRouter returns a router with strict path matching and JSON 404/405
// replies.
func NewRouter() *Router {
	r := router.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.SaveMatchedRoutePath = true
	r.HandleOPTIONS = false
	r.HandleMethodNotAllowed = true
	r.NotFound = NotFoundHandler
	r.MethodNotAllowed = MethodNotAllowedHandler
	return r
}

func NotFoundHandler(ctx *RequestCtx) {
	writeJSONError(ctx, StatusNotFound, "not found")
}

func MethodNotAllowedHandler(ctx *RequestCtx) {
	writeJSONError(ctx, StatusMethodNotAllowed, "method not allowed")
}

func writeJSONError(ctx *RequestCtx, status int, msg string) {
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyString(`{"error":` + strconv.Quote(msg) + `}`)
}
