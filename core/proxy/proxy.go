// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package proxy serves the internal database of organizations over HTTP.

Requests to

  {base}/organizations/{organization_id}/proxy/...

are meant for the backing query engine. Table names in these requests are
written as placeholders, ${name}. For each request the proxy checks that the
caller's session belongs to the organization in the path, replaces every
placeholder with the identifier of the organization's table, signs a fresh
service token and relays the request to the engine.

A request is forwarded only if every placeholder resolved. Otherwise the
caller gets a 404 listing all unknown tables and the engine is never
contacted.
*/
package proxy

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dbproxy/core/access"
	"github.com/relabs-tech/dbproxy/core/audit"
	"github.com/relabs-tech/dbproxy/core/credential"
	"github.com/relabs-tech/dbproxy/core/gateway"
	"github.com/relabs-tech/dbproxy/core/logger"
	"github.com/relabs-tech/dbproxy/core/metrics"
	"github.com/relabs-tech/dbproxy/core/placeholder"
	"github.com/relabs-tech/dbproxy/core/resolver"
)

// Service is the internal database proxy
type Service struct {
	basePath string
	rewriter *placeholder.Rewriter
	signer   *credential.Signer
	gateway  *gateway.Gateway
	metrics  *metrics.Collector
	auditor  audit.Recorder
	cors     func(http.Handler) http.Handler
}

// Builder is a builder helper for the Service
type Builder struct {
	// Router is a mux router. This is mandatory. Sessions must be added to
	// request contexts by middleware on this router, see access.NewSessionMiddleware.
	Router *mux.Router
	// Resolver resolves table names. This is mandatory.
	Resolver placeholder.NameResolver
	// Signer signs the service tokens. This is mandatory.
	Signer *credential.Signer
	// Gateway relays requests to the backing engine. This is mandatory.
	Gateway *gateway.Gateway
	// BasePath is the path prefix of the proxy routes. Defaults to gateway.DefaultBasePath.
	// It must match the base path of the gateway.
	BasePath string
	// Metrics is optional
	Metrics *metrics.Collector
	// Auditor is optional
	Auditor audit.Recorder
	// AllowedOrigins are the browser origins allowed to send credentials.
	// If empty, any origin may call the proxy, but without cookies.
	AllowedOrigins []string
}

// New creates the proxy service and registers its routes
func New(b *Builder) *Service {
	if b.Router == nil {
		panic("router missing")
	}
	if b.Resolver == nil || b.Signer == nil || b.Gateway == nil {
		panic("resolver, signer and gateway are mandatory")
	}
	s := &Service{
		basePath: b.BasePath,
		rewriter: placeholder.NewRewriter(b.Resolver),
		signer:   b.Signer,
		gateway:  b.Gateway,
		metrics:  b.Metrics,
		auditor:  b.Auditor,
		cors:     newCORSMiddleware(b.AllowedOrigins),
	}
	if len(s.basePath) == 0 {
		s.basePath = gateway.DefaultBasePath
	}
	if s.auditor == nil {
		s.auditor = audit.Nop{}
	}
	s.handleRoutes(b.Router)
	return s
}

func (s *Service) handleRoutes(router *mux.Router) {
	route := s.basePath + "/organizations/{organization_id}/proxy/"
	rlog := logger.Default()
	rlog.Infoln("internal database proxy")
	rlog.Infoln("  handle route:", route+"*", "ALL")

	router.PathPrefix(route).Handler(s.cors(http.HandlerFunc(s.handleProxy)))
}

func (s *Service) handleProxy(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	rlog := logger.FromContext(ctx)
	rlog.Debugln("called route for", r.URL, r.Method)

	session := access.SessionFromContext(ctx)
	if session == nil {
		s.reject(w, http.StatusUnauthorized, metrics.OutcomeUnauthorized, "Unauthorized")
		return
	}
	// only the canonical form is accepted, the gateway strips exactly that
	// routing prefix
	segment := mux.Vars(r)["organization_id"]
	organizationID, err := uuid.Parse(segment)
	if err != nil || organizationID != session.OrganizationID || !strings.EqualFold(segment, organizationID.String()) {
		rlog.Warnln("session of organization", session.OrganizationID, "used for", segment)
		s.reject(w, http.StatusForbidden, metrics.OutcomeForbidden, "Forbidden")
		return
	}

	rawURL := r.RequestURI
	if !strings.HasPrefix(rawURL, "/") { // empty, or absolute form
		rawURL = r.URL.RequestURI()
	}
	if !strings.HasPrefix(rawURL, s.basePath+"/organizations/"+segment+"/proxy/") {
		// an encoded routing prefix would reach the engine unstripped
		s.reject(w, http.StatusBadRequest, metrics.OutcomeBadRequest, "Bad Request")
		return
	}

	rewritten, err := s.rewriter.Rewrite(ctx, organizationID, rawURL)
	if err != nil {
		switch {
		case errors.Is(err, resolver.ErrNotFound):
			s.reject(w, http.StatusNotFound, metrics.OutcomeNotFound, err.Error())
		case errors.Is(err, placeholder.ErrMalformedURL):
			s.reject(w, http.StatusBadRequest, metrics.OutcomeBadRequest, err.Error())
		default:
			rlog.WithError(err).Errorln("cannot rewrite url")
			s.reject(w, http.StatusInternalServerError, metrics.OutcomeError, "Internal Server Error")
		}
		return
	}

	token, err := s.signer.Sign()
	if err != nil {
		rlog.WithError(err).Errorln("cannot sign service token")
		s.reject(w, http.StatusInternalServerError, metrics.OutcomeError, "Internal Server Error")
		return
	}

	sw := &statusWriter{ResponseWriter: w}
	s.gateway.Forward(sw, r, rewritten, token)
	s.metrics.RecordRequest(metrics.OutcomeForwarded)

	var names []string
	if decoded, err := placeholder.Decode(rawURL); err == nil {
		names = placeholder.Extract(decoded)
	}
	s.auditor.Record(ctx, audit.Event{
		RequestID:      logger.RequestIDFromContext(ctx),
		OrganizationID: organizationID.String(),
		UserID:         session.UserID,
		Method:         r.Method,
		Tables:         names,
		Status:         sw.Status(),
		DurationMS:     time.Since(started).Milliseconds(),
		Timestamp:      started.UTC(),
	})
}

func (s *Service) reject(w http.ResponseWriter, status int, outcome, message string) {
	s.metrics.RecordRequest(outcome)
	gateway.WriteError(w, status, message)
}

// statusWriter remembers the status code written through it
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps streamed responses streaming
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap is used by http.ResponseController
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Status returns the written status, 0 if nothing was written
func (w *statusWriter) Status() int {
	return w.status
}
