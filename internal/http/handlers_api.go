package http

import (
	"encoding/json"
	"net/http"

	"receipts/internal/core"
	"receipts/internal/log"
	"receipts/internal/services"
)

const maxPatchBytes = 64 << 10

type apiCategory struct {
	Name    string `json:"name"`
	Expense string `json:"expense"`
	Income  string `json:"income"`
}

type apiSummary struct {
	Count      int           `json:"count"`
	Income     string        `json:"income"`
	Expense    string        `json:"expense"`
	Net        string        `json:"net"`
	ByCategory []apiCategory `json:"by_category"`
}

type apiPage struct {
	Page     int                 `json:"page"`
	Receipts []map[string]string `json:"receipts"`
	Summary  apiSummary          `json:"summary"`
	HasNext  bool                `json:"has_next"`
}

func newAPIPage(p services.Page) apiPage {
	out := apiPage{
		Page:     p.Number,
		Receipts: make([]map[string]string, 0, len(p.Receipts)),
		HasNext:  p.HasNext,
		Summary: apiSummary{
			Count:      p.Summary.Count,
			Income:     p.Summary.Income.StringFixed(2),
			Expense:    p.Summary.Expense.StringFixed(2),
			Net:        p.Summary.Net().StringFixed(2),
			ByCategory: make([]apiCategory, 0, len(p.Summary.ByCategory)),
		},
	}
	for _, rc := range p.Receipts {
		out.Receipts = append(out.Receipts, rc.Values())
	}
	for _, c := range p.Summary.ByCategory {
		out.Summary.ByCategory = append(out.Summary.ByCategory, apiCategory{
			Name:    c.Name,
			Expense: c.Expense.StringFixed(2),
			Income:  c.Income.StringFixed(2),
		})
	}
	return out
}

type apiError struct {
	Error string `json:"error"`
}

func (s *Server) writeAPIError(w http.ResponseWriter, r *http.Request, err error, op string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "API request failed", err, op, nil)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, apiError{Error: msg})
}

func (s *Server) handleAPIList(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.List(r.Context(), parsePage(r.URL.Query().Get("page")))
	if err != nil {
		s.writeAPIError(w, r, err, log.OpList)
		return
	}
	writeJSON(w, http.StatusOK, newAPIPage(page))
}

func (s *Server) handleAPIGet(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeAPIError(w, r, err, log.OpRead)
		return
	}
	rc, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeAPIError(w, r, err, log.OpRead)
		return
	}
	writeJSON(w, http.StatusOK, rc.Values())
}

// handleAPIPatch updates only the columns present in the JSON object body.
func (s *Server) handleAPIPatch(w http.ResponseWriter, r *http.Request) {
	id, err := core.ParseID(r.PathValue("id"))
	if err != nil {
		s.writeAPIError(w, r, err, log.OpUpdate)
		return
	}

	var values map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	if err := dec.Decode(&values); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON body: " + err.Error()})
		return
	}
	for k, v := range values {
		values[k] = sanitizeInput(v)
	}

	affected, err := s.svc.Patch(r.Context(), id, values)
	if err != nil {
		s.writeAPIError(w, r, err, log.OpUpdate)
		return
	}
	if affected == 0 {
		s.writeAPIError(w, r, services.ErrNotFound, log.OpUpdate)
		return
	}
	rc, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeAPIError(w, r, err, log.OpRead)
		return
	}
	s.logSaved(r, log.OpUpdate, rc)
	writeJSON(w, http.StatusOK, rc.Values())
}
