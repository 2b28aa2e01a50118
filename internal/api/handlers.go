package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/escalation"
	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/scoring"
	"github.com/cynergists/specter/internal/store"
)

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody reads an optional JSON body into v. An empty body is not an error.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tenant loads the path tenant, writing 404 when it does not exist.
func (s *server) tenant(w http.ResponseWriter, r *http.Request) (*model.Tenant, bool) {
	id := chi.URLParam(r, "tenantID")
	t, err := s.Store.GetTenant(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return nil, false
	}
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	return t, true
}

// session loads the path tenant and session.
func (s *server) session(w http.ResponseWriter, r *http.Request) (*model.Tenant, *model.Session, bool) {
	t, ok := s.tenant(w, r)
	if !ok {
		return nil, nil, false
	}
	sess, err := s.Store.GetSession(r.Context(), t.ID, chi.URLParam(r, "sessionID"))
	if err != nil {
		internalError(w, r, err)
		return nil, nil, false
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}
	return t, sess, true
}

// visitor loads the session's visitor.
func (s *server) visitor(w http.ResponseWriter, r *http.Request, sess *model.Session) (*model.Visitor, bool) {
	v, err := s.Store.GetVisitorByPK(r.Context(), sess.VisitorPK)
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	if v == nil {
		internalError(w, r, eris.Errorf("api: session %s has no visitor", sess.SessionID))
		return nil, false
	}
	return v, true
}

func (s *server) ingest(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(w, r)
	if !ok {
		return
	}

	var p ingest.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta := ingest.RequestMeta{UserAgent: r.UserAgent(), IP: clientIP(r)}
	sum, err := s.Ingester.Ingest(r.Context(), t, &p, meta)
	var verr *ingest.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// clientIP strips the port from RemoteAddr, which RealIP may already have
// replaced with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *server) score(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := s.Scorer.ScoreSession(r.Context(), t, sess)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type identityBody struct {
	Identity model.IdentitySignals `json:"identity"`
}

func (s *server) resolve(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body identityBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, ok := s.visitor(w, r, sess)
	if !ok {
		return
	}

	res, err := s.Resolver.Resolve(r.Context(), t, v, sess, body.Identity)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// sync pushes the session using the session's stored resolution and the
// contact supplied in the body.
func (s *server) sync(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body identityBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, ok := s.visitor(w, r, sess)
	if !ok {
		return
	}

	res := &model.Resolution{
		ConsentAllowed: v.ConsentAllowed(),
		Resolved:       sess.ResolutionStatus == model.ResolutionResolved || sess.ResolutionStatus == model.ResolutionPartial,
		Status:         sess.ResolutionStatus,
		Confidence:     sess.ResolutionConfidence,
		Source:         sess.ResolutionSource,
		Contact: &model.Contact{
			Email:               body.Identity.Email,
			Phone:               body.Identity.Phone,
			Name:                body.Identity.Name,
			AuthenticatedUserID: body.Identity.AuthenticatedUserID,
		},
	}
	if sess.CompanyName != "" {
		res.Company = &model.Company{Name: sess.CompanyName, Domain: sess.CompanyDomain}
	}

	result, err := s.Syncer.SyncSession(r.Context(), t, sess, v, res)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type escalateBody struct {
	ReasonCode string         `json:"reason_code"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details"`
}

func (s *server) escalate(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body escalateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	v, ok := s.visitor(w, r, sess)
	if !ok {
		return
	}

	l, err := s.Escalator.Manual(r.Context(), t.ID, sess, v.VisitorID, body.ReasonCode, body.Reason, body.Details)
	if errors.Is(err, escalation.ErrUnknownReason) {
		writeError(w, http.StatusUnprocessableEntity, "unknown reason_code "+body.ReasonCode)
		return
	}
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *server) trigger(w http.ResponseWriter, r *http.Request) {
	t, sess, ok := s.session(w, r)
	if !ok {
		return
	}
	v, ok := s.visitor(w, r, sess)
	if !ok {
		return
	}
	payload, err := s.Trigger.Fire(r.Context(), t.ID, sess, v.VisitorID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"triggered": payload != nil,
		"payload":   payload,
	})
}

func (s *server) listRules(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(w, r)
	if !ok {
		return
	}
	rules, err := s.Store.ListTenantRules(r.Context(), t.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type rulesBody struct {
	Rules []model.ScoringRule `json:"rules"`
}

func (s *server) replaceRules(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var body rulesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := scoring.ValidateRules(body.Rules); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.Store.ReplaceTenantRules(r.Context(), t.ID, body.Rules); err != nil {
		internalError(w, r, err)
		return
	}
	rules, err := s.Store.ListTenantRules(r.Context(), t.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *server) listEscalations(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tenant(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := store.LogFilter{
		TenantID:   t.ID,
		ReasonCode: model.EscalationReason(q.Get("reason_code")),
		Limit:      cast.ToInt(q.Get("limit")),
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = ts
	}

	rows, err := s.Store.ListEscalations(r.Context(), filter)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
