package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/access"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/tenants"
)

func (s *Server) createTenant(w http.ResponseWriter, r *http.Request) {
	var req tenants.CreateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := s.engine.CreateTenant(r.Context(), caller(r), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, t)
}

func (s *Server) listTenants(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListTenants(r.Context(), caller(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}

func (s *Server) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.GetTenant(r.Context(), caller(r), httputil.PathVar(r, "tenant"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) setTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := s.engine.SetTenantStatus(r.Context(), caller(r), httputil.PathVar(r, "tenant"), req.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) updateTenantCeilings(w http.ResponseWriter, r *http.Request) {
	var req tenants.Ceilings
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := s.engine.UpdateTenantCeilings(r.Context(), caller(r), httputil.PathVar(r, "tenant"), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) setTenantFeatures(w http.ResponseWriter, r *http.Request) {
	var req FeaturesRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	t, err := s.engine.SetTenantFeatures(r.Context(), caller(r), httputil.PathVar(r, "tenant"), req.Features)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.engine.ListTemplates(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.engine.GetTemplate(r.Context(), httputil.PathVar(r, "name"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.Template == nil {
		httputil.WriteError(w, access.Invalid("template", "template is required"))
		return
	}
	req.Template.Name = httputil.PathVar(r, "name")

	t, err := s.engine.UpdateTemplate(r.Context(), caller(r), req.Template, req.ExpectedVersion)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := s.engine.QueryAudit(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, entries)
}

// exportAudit returns the filtered entries as NDJSON or CSV (?format=)
func (s *Server) exportAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	contentType := "application/x-ndjson"
	switch format {
	case audit.ExportFormatCSV:
		contentType = "text/csv"
	case audit.ExportFormatNDJSON, "":
	default:
		httputil.WriteError(w, access.Invalid("format", "must be ndjson or csv"))
		return
	}

	entries, err := s.engine.QueryAudit(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, err := audit.Export(entries, format)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:   q.Get("user_id"),
		TenantID: q.Get("tenant_id"),
	}
	for _, t := range httputil.ParseQueryList(r, "event_type") {
		f.EventTypes = append(f.EventTypes, audit.EventType(t))
	}

	var err error
	if f.Start, err = httputil.ParseQueryTime(r, "start"); err != nil {
		return f, err
	}
	if f.End, err = httputil.ParseQueryTime(r, "end"); err != nil {
		return f, err
	}
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", audit.DefaultQueryLimit); err != nil {
		return f, err
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}
