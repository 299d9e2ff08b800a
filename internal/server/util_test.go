package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	for in, want := range map[string]string{
		"":                "",
		"/":               "",
		"  //  ":          "",
		"_devhost":        "/_devhost",
		"/_devhost/":      "/_devhost",
		" /_devhost ":     "/_devhost",
		"//admin//dev//":  "/admin/dev",
		"/admin/../devh":  "/devh",
		"/../../_devhost": "/_devhost",
	} {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteJSONIsUncached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/status", func(c *gin.Context) { writeJSON(c, http.StatusAccepted, map[string]any{"state": "ready"}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache-control = %q", cc)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"state":"ready"}` {
		t.Fatalf("body = %s", body)
	}
}
