package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/quota"
	"github.com/platinummonkey/warden/pkg/rbac"
)

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Resolve(r.Context(), httputil.PathVar(r, "user"), httputil.PathVar(r, "tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, ResolveResponse{
		DecisionResponse: decisionResponse(res.Decision),
		Permissions:      res.Permissions,
	})
}

func (s *Server) hasCapability(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.HasCapability(r.Context(), httputil.PathVar(r, "user"), httputil.PathVar(r, "tenant"), httputil.PathVar(r, "capability"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, decisionResponse(d))
}

func (s *Server) hasMarketplaceAccess(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.HasMarketplaceAccess(r.Context(), httputil.PathVar(r, "user"), httputil.PathVar(r, "tenant"), httputil.PathVar(r, "marketplace"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, decisionResponse(d))
}

func (s *Server) consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	out, err := s.engine.CheckAndConsume(r.Context(), quota.Request{
		TenantID: httputil.PathVar(r, "tenant"),
		UserID:   req.UserID,
		Feature:  httputil.PathVar(r, "feature"),
		Amount:   req.Amount,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, ConsumeResponse{
		DecisionResponse: decisionResponse(out.Decision),
		Feature:          out.Feature,
		WindowStart:      out.WindowStart,
		Count:            out.Count,
		Ceiling:          out.Ceiling,
	})
}

func (s *Server) quotaSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.QuotaSnapshot(r.Context(), httputil.PathVar(r, "tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, snap)
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var req AssignRoleRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	a, err := s.engine.AssignRole(r.Context(), rbac.AssignRequest{
		UserID:       httputil.PathVar(r, "user"),
		TenantID:     httputil.PathVar(r, "tenant"),
		TemplateName: req.Template,
		Overrides:    req.Overrides,
		ActorID:      caller(r),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, a)
}

func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	a, err := s.engine.RevokeRole(r.Context(), httputil.PathVar(r, "user"), httputil.PathVar(r, "tenant"), caller(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, a)
}

func (s *Server) listAssignments(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListAssignments(r.Context(), httputil.PathVar(r, "tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}
