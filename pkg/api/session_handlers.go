package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/sessions"
)

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := s.engine.CreateSession(r.Context(), sessions.CreateRequest{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Origin: sessions.Origin{
			IPAddress: httputil.ClientIP(r),
			UserAgent: r.UserAgent(),
			Location:  req.Location,
		},
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, session)
}

func (s *Server) touchSession(w http.ResponseWriter, r *http.Request) {
	touched, err := s.engine.TouchSession(r.Context(), httputil.PathVar(r, "token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, TouchResponse{Touched: touched})
}

func (s *Server) authorizeSession(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	d, err := s.engine.AuthorizeSession(r.Context(), httputil.PathVar(r, "token"), req.Capability)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, decisionResponse(d))
}

func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if err := s.engine.TerminateSession(r.Context(), httputil.PathVar(r, "token"), reason); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListSessions(r.Context(), httputil.PathVar(r, "user"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}
