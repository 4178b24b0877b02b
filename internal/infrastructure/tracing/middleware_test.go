package tracing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHTTPMiddleware(t *testing.T) {
	tracer, recorder := newTestTracer(t)

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.POST("/order", func(c *gin.Context) {
		assert.NotNil(t, SpanFromGin(c))
		assert.True(t, trace.SpanContextFromContext(c.Request.Context()).IsValid())
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})

	t.Run("continues caller trace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/order", strings.NewReader(`{"orderNumber":1}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("traceparent", "00-"+fixedTraceID+"-"+fixedSpanID+"-01")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("traceparent"))
		assert.NotContains(t, w.Body.String(), fixedTraceID)

		ended := recorder.Ended()
		require.NotEmpty(t, ended)
		span := ended[len(ended)-1]

		assert.Equal(t, "POST /order", span.Name())
		assert.Equal(t, trace.SpanKindServer, span.SpanKind())
		assert.Equal(t, fixedTraceID, span.SpanContext().TraceID().String())
		assert.Equal(t, fixedSpanID, span.Parent().SpanID().String())
		assert.Equal(t, codes.Ok, span.Status().Code)

		tags := attrs(span)
		assert.Equal(t, "POST", tags["http.method"])
		assert.Equal(t, "/order", tags["http.route"])
		assert.Equal(t, "http", tags["http.scheme"])
		assert.Equal(t, "17", tags["http.request_content_length"])
		assert.Equal(t, "application/json", tags["http.request_content_type"])
		assert.Equal(t, "200", tags["http.status_code"])
		assert.Contains(t, tags["http.response_content_type"], "application/json")
		assert.NotEmpty(t, tags["http.client_ip"])
	})

	t.Run("server errors mark the span", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		ended := recorder.Ended()
		span := ended[len(ended)-1]
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "Service Unavailable", span.Status().Description)
		assert.Equal(t, "https", attrs(span)["http.scheme"])
		assert.False(t, span.Parent().IsValid())
	})
}

func TestHTTPMiddlewareRecordsPanics(t *testing.T) {
	tracer, recorder := newTestTracer(t)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(HTTPMiddleware(tracer))
	router.GET("/panic", func(*gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "GET /panic", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "500", attrs(span)["http.status_code"])

	var exception bool
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			exception = true
		}
	}
	assert.True(t, exception)
}
