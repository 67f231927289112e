package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/railwatch/internal/http/response"
	"github.com/diagnosis/railwatch/internal/mapview"
	"github.com/diagnosis/railwatch/internal/registry"
	"github.com/diagnosis/railwatch/internal/search"
)

type searchResponse struct {
	Search search.ResultSet `json:"search"`
	Map    mapview.View     `json:"map"`
}

type dashboardResponse struct {
	Gates  []registry.GateRecord `json:"gates"`
	Search search.ResultSet      `json:"search"`
	Map    mapview.View          `json:"map"`
}

func (h *Handlers) listGates(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{"gates": h.Registry.All()})
}

func (h *Handlers) getGate(w http.ResponseWriter, r *http.Request) {
	g, err := h.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get_gate", err)
		return
	}
	response.WriteJSON(w, http.StatusOK, g)
}

// search is stateless; it does not touch the dashboard view.
func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	rs := search.Search(h.Registry, r.URL.Query().Get("q"))
	response.WriteJSON(w, http.StatusOK, searchResponse{Search: rs, Map: h.Maps.Build(rs)})
}

func (h *Handlers) submitSearch(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Query string `json:"query"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	rs := h.View.Submit(in.Query)
	response.WriteJSON(w, http.StatusOK, searchResponse{Search: rs, Map: h.Maps.Build(rs)})
}

func (h *Handlers) clearSearch(w http.ResponseWriter, r *http.Request) {
	h.View.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	rs := h.View.Current()
	response.WriteJSON(w, http.StatusOK, dashboardResponse{
		Gates:  h.Registry.All(),
		Search: rs,
		Map:    h.Maps.Build(rs),
	})
}

func (h *Handlers) mapView(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.Maps.Build(h.View.Current()))
}
