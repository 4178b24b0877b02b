package tracing

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SpanKey is the gin context key holding the request span.
const SpanKey = "tracing.span"

// HTTPMiddleware creates Gin middleware for HTTP tracing. The request span
// continues a W3C traceparent sent by the caller. Trace ids are never
// written to the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		parent := tracer.ExtractHTTP(c.Request.Header)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+route, KindServer, WithParent(parent))
		defer span.End()
		defer func() {
			if rec := recover(); rec != nil {
				span.SetTag("http.status_code", strconv.Itoa(http.StatusInternalServerError))
				span.RecordError(fmt.Errorf("panic: %v", rec))
				span.SetStatus(StatusError, "panic")
				panic(rec)
			}
		}()

		span.SetTags(map[string]string{
			"http.method":                 c.Request.Method,
			"http.route":                  route,
			"http.scheme":                 scheme(c.Request),
			"http.client_ip":              c.ClientIP(),
			"http.request_content_length": strconv.FormatInt(c.Request.ContentLength, 10),
			"http.request_content_type":   c.ContentType(),
		})

		c.Request = c.Request.WithContext(ctx)
		c.Set(SpanKey, span)

		c.Next()

		status := c.Writer.Status()
		span.SetTags(map[string]string{
			"http.status_code":             strconv.Itoa(status),
			"http.response_content_length": strconv.Itoa(c.Writer.Size()),
			"http.response_content_type":   c.Writer.Header().Get("Content-Type"),
		})

		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
		if span.HasStatus() {
			return
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(StatusError, http.StatusText(status))
		} else {
			span.SetStatus(StatusOk, "")
		}
	}
}

// SpanFromGin returns the request span opened by HTTPMiddleware, or nil.
func SpanFromGin(c *gin.Context) *Span {
	v, ok := c.Get(SpanKey)
	if !ok {
		return nil
	}
	span, _ := v.(*Span)
	return span
}

func scheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
