package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewAttachesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "worker")
	l.Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["component"] != "worker" {
		t.Fatalf("expected component attr, got %v", rec)
	}
}

func TestWithAttrsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := With(context.Background(), NewWithWriter(&buf, "dev", ""))
	ctx, _ = WithAttrs(ctx, "job_id", "j1")
	From(ctx).Debug("x")

	if !bytes.Contains(buf.Bytes(), []byte(`"job_id":"j1"`)) {
		t.Fatalf("expected job_id in output: %s", buf.String())
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "dev", "api")))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == nil {
			t.Fatalf("expected request logger")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request_id in log: %s", buf.String())
	}
}
