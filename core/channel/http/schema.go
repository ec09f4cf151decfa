package http

import (
	"net/http"
	"sort"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/mode"
	"github.com/go-chi/chi/v5"
)

// EndpointSchema is one route available to the caller.
type EndpointSchema struct {
	Action string `json:"action"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// CollectionSchema is the introspection document of one collection.
type CollectionSchema struct {
	*entity.Description
	Endpoints []EndpointSchema `json:"endpoints"`
}

// MetaHandler handles introspection requests.
type MetaHandler struct {
	service *entity.Service
}

// NewMetaHandler creates a new introspection handler.
func NewMetaHandler(svc *entity.Service) *MetaHandler {
	return &MetaHandler{service: svc}
}

// Routes returns a router with all introspection routes.
func (h *MetaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listCollections)
	r.Get("/{collection}", h.getCollection)
	return r
}

// listCollections handles GET /_meta. Collections the caller has no rights
// on are omitted.
func (h *MetaHandler) listCollections(w http.ResponseWriter, r *http.Request) {
	opts := options(r.URL.Query())
	names := h.service.Registry().Names()
	sort.Strings(names)

	out := make([]CollectionSchema, 0, len(names))
	for _, name := range names {
		d, err := h.service.Describe(r.Context(), name, opts)
		if apierr.Is(err, apierr.NoRights) {
			continue
		}
		if err != nil {
			respond(w, http.StatusOK, nil, err)
			return
		}
		out = append(out, buildSchema(d))
	}
	respond(w, http.StatusOK, out, nil)
}

// getCollection handles GET /_meta/{collection}.
func (h *MetaHandler) getCollection(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Describe(r.Context(), chi.URLParam(r, "collection"), options(r.URL.Query()))
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	respond(w, http.StatusOK, buildSchema(d), nil)
}

func buildSchema(d *entity.Description) CollectionSchema {
	return CollectionSchema{
		Description: d,
		Endpoints:   buildEndpoints(d.Mode, "/api/"+d.Collection),
	}
}

// buildEndpoints lists the routes the mode allows.
func buildEndpoints(m mode.Mode, basePath string) []EndpointSchema {
	routes := []struct {
		op     mode.Op
		action string
		method string
		path   string
	}{
		{mode.Read, "list", http.MethodGet, basePath},
		{mode.Read, "get", http.MethodGet, basePath + "/{id}"},
		{mode.Read, "reference", http.MethodGet, basePath + "/_ref"},
		{mode.Create, "create", http.MethodPost, basePath},
		{mode.Update, "update", http.MethodPut, basePath + "/{id}"},
		{mode.Update, "update", http.MethodPatch, basePath + "/{id}"},
		{mode.Delete, "delete", http.MethodDelete, basePath + "/{id}"},
		{mode.Batch, "delete_batch", http.MethodDelete, basePath},
		{mode.Clone, "clone", http.MethodPost, basePath + "/{id}/_clone"},
		{mode.Import, "import", http.MethodPost, basePath + "/_import"},
		{mode.Export, "export", http.MethodGet, basePath + "/_export"},
	}

	endpoints := []EndpointSchema{}
	for _, rt := range routes {
		if !m.Has(rt.op) {
			continue
		}
		// Batch delete also needs single delete rights.
		if rt.op == mode.Batch && !m.Has(mode.Delete) {
			continue
		}
		endpoints = append(endpoints, EndpointSchema{Action: rt.action, Method: rt.method, Path: rt.path})
	}
	return endpoints
}
