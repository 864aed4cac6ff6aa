package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestContextWithLoggerKeepsExistingLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	again, rlog2 := ContextWithLogger(ctx)
	if again != ctx || rlog2 != rlog {
		t.Fatal("expected the existing logger to be reused")
	}
	if RequestIDFromContext(ctx) == "" {
		t.Fatal("expected a request id")
	}
}

func TestContextWithLoggerTenant(t *testing.T) {
	ctx, _ := ContextWithLogger(context.Background())
	id := RequestIDFromContext(ctx)

	ctx, rlog := ContextWithLoggerTenant(ctx, "org-1")
	if rlog.Data[tenantLoggerKey] != "org-1" {
		t.Fatalf("tenant field missing: %v", rlog.Data)
	}
	if RequestIDFromContext(ctx) != id {
		t.Fatal("request id changed when adding the tenant")
	}
	if FromContext(ctx) != rlog {
		t.Fatal("FromContext does not return the tenant logger")
	}
}

func TestFromContextWithoutLogger(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatal("expected no request id")
	}
}

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("handler did not see a request id")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Fatalf("expected header %q, got %q", seen, got)
	}
}
