package http

import (
	"net/http"

	"github.com/artpar/entitygate/core/apierr"
	"github.com/artpar/entitygate/core/identity"
)

// Session describes the caller of a request.
type Session struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// handleMe handles GET /_auth/me.
func (c *Channel) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil {
		respond(w, http.StatusOK, nil, apierr.New(apierr.NoSession, "no session"))
		return
	}
	respond(w, http.StatusOK, Session{Subject: id.Subject, Role: id.Role}, nil)
}
