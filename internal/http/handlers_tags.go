package http

import (
	"net/http"

	"hazine/internal/core"
	"hazine/internal/log"
)

func (h *handlers) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.tags.List(r.Context())
	if err != nil {
		failure{op: log.OpList, component: log.ComponentTag, generic: "Failed to fetch tags"}.write(w, r, err)
		return
	}
	if tags == nil {
		tags = []core.Tag{}
	}
	writeJSON(w, http.StatusOK, tags)
}

// handleCreateTag returns the existing tag with 200 or the new one with 201.
func (h *handlers) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	fail := failure{op: log.OpResolve, component: log.ComponentTag, generic: "Failed to create tag"}

	var body tagBody
	if err := decodeJSON(w, r, &body); err != nil {
		fail.write(w, r, err)
		return
	}
	tag, created, err := h.tags.Resolve(r.Context(), body.Name)
	if err != nil {
		fail.write(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, tag)
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.Categories())
}
