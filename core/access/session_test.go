package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var secret = []byte("session-secret")

func newTestRouter(t *testing.T, seen **Session) *mux.Router {
	router := mux.NewRouter()
	router.Use(NewSessionMiddleware(&SessionMiddlewareBuilder{Secret: secret, Issuer: "tooljet"}))
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		*seen = SessionFromContext(r.Context())
	})
	return router
}

func TestSessionMiddleware_Bearer(t *testing.T) {
	var seen *Session
	router := newTestRouter(t, &seen)

	org := uuid.New()
	token, err := NewSessionToken(secret, "tooljet", Session{OrganizationID: org, UserID: "u1"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if seen == nil || seen.OrganizationID != org || seen.UserID != "u1" {
		t.Fatalf("unexpected session %+v", seen)
	}
}

func TestSessionMiddleware_Cookie(t *testing.T) {
	var seen *Session
	router := newTestRouter(t, &seen)

	org := uuid.New()
	token, _ := NewSessionToken(secret, "tooljet", Session{OrganizationID: org}, jwt.RegisteredClaims{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	router.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil || seen.OrganizationID != org {
		t.Fatalf("unexpected session %+v", seen)
	}
}

func TestSessionMiddleware_NoToken(t *testing.T) {
	seen := &Session{}
	router := newTestRouter(t, &seen)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK || seen != nil {
		t.Fatalf("expected pass through without session, got %d %+v", rec.Code, seen)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	org := uuid.New()
	expired, _ := NewSessionToken(secret, "tooljet", Session{OrganizationID: org}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	wrongIssuer, _ := NewSessionToken(secret, "someone", Session{OrganizationID: org}, jwt.RegisteredClaims{})
	wrongSecret, _ := NewSessionToken([]byte("other"), "tooljet", Session{OrganizationID: org}, jwt.RegisteredClaims{})
	noOrganization, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: "tooljet"}).SignedString(secret)

	for name, token := range map[string]string{
		"expired":         expired,
		"wrong issuer":    wrongIssuer,
		"wrong secret":    wrongSecret,
		"no organization": noOrganization,
		"garbage":         "abc",
	} {
		var seen *Session
		router := newTestRouter(t, &seen)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
		if seen != nil {
			t.Errorf("%s: handler must not be reached", name)
		}
	}
}
