package testutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"

	"github.com/roach88/gridsync/internal/record"
	"github.com/roach88/gridsync/internal/resource"
)

// NewServer serves backend over the keyset REST contract at path:
//
//	GET    path/keyset
//	POST   path
//	PATCH  path/{id}   and PUT path/{id}
//	DELETE path/{id}
//
// The caller must Close the server.
func NewServer(backend resource.Backend, path string) *httptest.Server {
	return httptest.NewServer(Handler(backend, path))
}

// Handler returns the http.Handler used by NewServer.
func Handler(backend resource.Backend, path string) http.Handler {
	path = "/" + strings.Trim(path, "/")
	h := &handler{backend: backend}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path+"/keyset", h.keyset)
	mux.HandleFunc("POST "+path, h.create)
	mux.HandleFunc("PATCH "+path+"/{id}", h.update)
	mux.HandleFunc("PUT "+path+"/{id}", h.update)
	mux.HandleFunc("DELETE "+path+"/{id}", h.delete)
	return mux
}

type handler struct {
	backend resource.Backend
}

type pageBody struct {
	Items      []record.Fields `json:"items"`
	NextCursor record.Cursor   `json:"next_cursor"`
	HasMore    bool            `json:"has_more"`
	PrevCursor record.Cursor   `json:"prev_cursor,omitempty"`
	HasPrev    bool            `json:"has_prev,omitempty"`
}

var reservedParams = map[string]bool{"limit": true, "cursor": true, "q": true, "direction": true}

func (h *handler) keyset(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := resource.KeysetRequest{
		Cursor:  record.Cursor(q.Get("cursor")),
		Keyword: q.Get("q"),
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", fmt.Sprintf("invalid limit %q", s))
			return
		}
		req.Limit = n
	}
	if q.Get("direction") == "prev" {
		req.Direction = resource.Backward
	}
	for k := range q {
		if reservedParams[k] {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]string)
		}
		req.Params[k] = q.Get(k)
	}

	page, err := h.backend.Keyset(r.Context(), req)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	items := page.Items
	if items == nil {
		items = []record.Fields{}
	}
	writeJSON(w, http.StatusOK, pageBody{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		PrevCursor: page.PrevCursor,
		HasPrev:    page.HasPrev,
	})
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	out, err := h.backend.Create(r.Context(), fields)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	out, err := h.backend.Update(r.Context(), id, fields)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.backend.Delete(r.Context(), id); err != nil {
		writeBackendError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_id", fmt.Sprintf("invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func decodeFields(w http.ResponseWriter, r *http.Request) (record.Fields, bool) {
	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return nil, false
	}
	fields, err := record.NormalizeFields(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err.Error())
		return nil, false
	}
	return fields, true
}

func writeBackendError(w http.ResponseWriter, err error) {
	var se *resource.StatusError
	if errors.As(err, &se) {
		code := se.ErrCode
		if code == "" {
			code = strings.ToLower(strings.ReplaceAll(http.StatusText(se.Code), " ", "_"))
		}
		msg := se.Message
		if msg == "" {
			msg = http.StatusText(se.Code)
		}
		writeError(w, se.Code, code, msg)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
