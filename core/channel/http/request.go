package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/entity"
)

// Query parameters with a fixed meaning. Every other parameter of a list or
// export request is a search value.
var reserved = map[string]bool{
	"page":       true,
	"limit":      true,
	"sort_by":    true,
	"desc":       true,
	"attr_names": true,
	"ref_by":     true,
	"mode":       true,
	"view":       true,
	"search":     true,
}

func options(q url.Values) entity.Options {
	return entity.Options{Mode: q.Get("mode"), View: q.Get("view")}
}

// listRequest parses a list or export query string.
//
//	?attr_names=name,price&sort_by=price&desc=true&page=2&limit=10&category=<id>
//
// attr_names, sort_by and desc are comma lists. A parameter that is absent
// stays nil so the service can reject it; a present but empty one is an
// empty list. search may carry a JSON object of operator conditions.
func listRequest(r *http.Request) (entity.ListRequest, error) {
	q := r.URL.Query()
	req := entity.ListRequest{
		Options: options(q),
		RefBy:   q.Get("ref_by"),
	}

	var err error
	if req.Params.Page, err = intParam(q, "page"); err != nil {
		return req, err
	}
	if req.Params.Limit, err = intParam(q, "limit"); err != nil {
		return req, err
	}
	req.Params.AttrNames = listParam(q, "attr_names")
	req.Params.SortBy = listParam(q, "sort_by")
	if req.Params.Desc, err = boolList(q, "desc"); err != nil {
		return req, err
	}

	search := make(map[string]any)
	if raw := q.Get("search"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &search); err != nil {
			return req, apierr.New(apierr.InvalidParams, "search must be a JSON object")
		}
	}
	for key, values := range q {
		if reserved[key] || len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			search[key] = values[0]
			continue
		}
		in := make([]any, len(values))
		for i, v := range values {
			in[i] = v
		}
		search[key] = map[string]any{"$in": in}
	}
	if len(search) > 0 {
		req.Search = search
	}
	return req, nil
}

func intParam(q url.Values, name string) (int64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.Newf(apierr.InvalidParams, "%s must be an integer", name)
	}
	return n, nil
}

func listParam(q url.Values, name string) []string {
	if !q.Has(name) {
		return nil
	}
	out := []string{}
	for _, part := range strings.Split(q.Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func boolList(q url.Values, name string) ([]bool, error) {
	parts := listParam(q, name)
	if parts == nil {
		return nil, nil
	}
	out := make([]bool, len(parts))
	for i, p := range parts {
		b, err := strconv.ParseBool(p)
		if err != nil {
			return nil, apierr.Newf(apierr.InvalidParams, "%s must be a list of booleans", name)
		}
		out[i] = b
	}
	return out, nil
}

// decodeBody decodes a JSON request body into v. An empty body is
// NO_PARAMS; malformed JSON is INVALID_PARAMS.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return apierr.New(apierr.NoParams, "request body is required")
		case errors.As(err, &tooLarge):
			return apierr.New(apierr.InvalidParams, "request body too large")
		default:
			return apierr.New(apierr.InvalidParams, "invalid JSON body")
		}
	}
	return nil
}

// decodeObject decodes a JSON object body. An empty body yields an empty
// object when optional is set.
func decodeObject(r *http.Request, optional bool) (map[string]any, error) {
	var payload map[string]any
	err := decodeBody(r, &payload)
	if err != nil && optional && apierr.Is(err, apierr.NoParams) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, apierr.New(apierr.NoParams, "request body must be a JSON object")
	}
	return payload, nil
}
