package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleList handles GET /api/{collection}.
func (c *Channel) handleList(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r)
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	res, err := c.service.List(r.Context(), chi.URLParam(r, "collection"), req)
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	respondList(w, res.Data, res.Total, nil)
}

// handleExport handles GET /api/{collection}/_export.
func (c *Channel) handleExport(w http.ResponseWriter, r *http.Request) {
	req, err := listRequest(r)
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	res, err := c.service.Export(r.Context(), chi.URLParam(r, "collection"), req)
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	respondList(w, res.Data, res.Total, nil)
}

// handleGet handles GET /api/{collection}/{id}.
func (c *Channel) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := c.service.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), options(r.URL.Query()))
	respond(w, http.StatusOK, doc, err)
}

// handleCreate handles POST /api/{collection}.
func (c *Channel) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r, false)
	if err != nil {
		respond(w, http.StatusCreated, nil, err)
		return
	}
	doc, err := c.service.Create(r.Context(), chi.URLParam(r, "collection"), payload, options(r.URL.Query()))
	respond(w, http.StatusCreated, doc, err)
}

// handleUpdate handles PUT and PATCH /api/{collection}/{id}. Both apply the
// sent fields only.
func (c *Channel) handleUpdate(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeObject(r, false)
	if err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	doc, err := c.service.Update(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), payload, options(r.URL.Query()))
	respond(w, http.StatusOK, doc, err)
}

// handleDelete handles DELETE /api/{collection}/{id}.
func (c *Channel) handleDelete(w http.ResponseWriter, r *http.Request) {
	c.delete(w, r, []string{chi.URLParam(r, "id")})
}

type deleteBody struct {
	IDs []string `json:"ids"`
}

// handleDeleteBatch handles DELETE /api/{collection} with {"ids": [...]}.
func (c *Channel) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	var body deleteBody
	if err := decodeBody(r, &body); err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	c.delete(w, r, body.IDs)
}

func (c *Channel) delete(w http.ResponseWriter, r *http.Request, ids []string) {
	n, err := c.service.Delete(r.Context(), chi.URLParam(r, "collection"), ids, options(r.URL.Query()))
	respond(w, http.StatusOK, map[string]int64{"deleted": n}, err)
}

// handleClone handles POST /api/{collection}/{id}/_clone. The body holds
// optional overrides.
func (c *Channel) handleClone(w http.ResponseWriter, r *http.Request) {
	overrides, err := decodeObject(r, true)
	if err != nil {
		respond(w, http.StatusCreated, nil, err)
		return
	}
	doc, err := c.service.Clone(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), overrides, options(r.URL.Query()))
	respond(w, http.StatusCreated, doc, err)
}

// handleImport handles POST /api/{collection}/_import with a JSON array of
// records. Per-record outcomes are in data; the envelope code is OK once the
// batch itself was accepted.
func (c *Channel) handleImport(w http.ResponseWriter, r *http.Request) {
	var items []map[string]any
	if err := decodeBody(r, &items); err != nil {
		respond(w, http.StatusOK, nil, err)
		return
	}
	results, err := c.service.Import(r.Context(), chi.URLParam(r, "collection"), items, options(r.URL.Query()))
	respond(w, http.StatusOK, results, err)
}

// handleReference handles GET /api/{collection}/_ref?ref_by=&q=.
func (c *Channel) handleReference(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	refs, err := c.service.ResolveReference(r.Context(), chi.URLParam(r, "collection"), q.Get("ref_by"), q.Get("q"), options(q))
	respond(w, http.StatusOK, refs, err)
}
