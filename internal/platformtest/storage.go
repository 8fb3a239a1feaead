package platformtest

import (
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

func storageError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": http.StatusText(status), "error": code, "message": msg})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	u, err := s.caller(r)
	if err != nil || u == nil {
		storageError(w, http.StatusUnauthorized, "Unauthorized", "new row violates row-level security policy")
		return
	}
	bucket, path := r.PathValue("bucket"), r.PathValue("path")
	data, err := io.ReadAll(io.LimitReader(r.Body, 50<<20))
	if err != nil {
		storageError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[bucket] == nil {
		s.objects[bucket] = map[string]object{}
	}
	if _, exists := s.objects[bucket][path]; exists && r.Header.Get("x-upsert") != "true" {
		storageError(w, http.StatusConflict, "Duplicate", "The resource already exists")
		return
	}
	s.objects[bucket][path] = object{Data: data, ContentType: r.Header.Get("Content-Type"), Created: s.nowLocked()}
	writeJSON(w, http.StatusOK, map[string]string{"Key": bucket + "/" + path, "Id": uuid.NewString()})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if u, err := s.caller(r); err != nil || u == nil {
		storageError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
		return
	}
	var req struct {
		Prefixes []string `json:"prefixes"`
	}
	if err := readJSON(r, &req); err != nil {
		storageError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	bucket := r.PathValue("bucket")
	var removed []map[string]string
	s.mu.Lock()
	for _, p := range req.Prefixes {
		if _, ok := s.objects[bucket][p]; ok {
			delete(s.objects[bucket], p)
			removed = append(removed, map[string]string{"name": p, "bucket_id": bucket})
		}
	}
	s.mu.Unlock()
	if removed == nil {
		removed = []map[string]string{}
	}
	writeJSON(w, http.StatusOK, removed)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
		SortBy struct {
			Column string `json:"column"`
			Order  string `json:"order"`
		} `json:"sortBy"`
	}
	if err := readJSON(r, &req); err != nil {
		storageError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	prefix := strings.Trim(req.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	type entry struct {
		name    string
		obj     object
		created time.Time
	}
	var entries []entry
	s.mu.Lock()
	for path, obj := range s.objects[r.PathValue("bucket")] {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		name := strings.TrimPrefix(path, prefix)
		if strings.Contains(name, "/") {
			continue
		}
		entries = append(entries, entry{name: name, obj: obj, created: obj.Created})
	}
	s.mu.Unlock()
	less := func(a, b entry) bool {
		if req.SortBy.Column == "created_at" || req.SortBy.Column == "updated_at" {
			return a.created.Before(b.created)
		}
		return a.name < b.name
	}
	sort.Slice(entries, func(i, j int) bool {
		if req.SortBy.Order == "desc" {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
	if req.Offset > 0 && req.Offset < len(entries) {
		entries = entries[req.Offset:]
	} else if req.Offset >= len(entries) {
		entries = nil
	}
	if req.Limit > 0 && req.Limit < len(entries) {
		entries = entries[:req.Limit]
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"name":       e.name,
			"id":         uuid.NewSHA1(uuid.NameSpaceURL, []byte(prefix+e.name)).String(),
			"created_at": e.created.Format(timeLayout),
			"updated_at": e.created.Format(timeLayout),
			"metadata":   map[string]any{"size": len(e.obj.Data), "mimetype": e.obj.ContentType},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if u, err := s.caller(r); err != nil || u == nil {
		storageError(w, http.StatusBadRequest, "Unauthorized", "invalid signature")
		return
	}
	var req struct {
		ExpiresIn int `json:"expiresIn"`
	}
	if err := readJSON(r, &req); err != nil || req.ExpiresIn <= 0 {
		storageError(w, http.StatusBadRequest, "InvalidRequest", "expiresIn must be positive")
		return
	}
	bucket, path := r.PathValue("bucket"), r.PathValue("path")
	s.mu.Lock()
	_, ok := s.objects[bucket][path]
	s.mu.Unlock()
	if !ok {
		storageError(w, http.StatusBadRequest, "not_found", "Object not found")
		return
	}
	token := s.Token(bucket+"/"+path, "", time.Duration(req.ExpiresIn)*time.Second)
	writeJSON(w, http.StatusOK, map[string]string{
		"signedURL": "/object/sign/" + bucket + "/" + path + "?token=" + url.QueryEscape(token),
	})
}

func (s *Server) handlePublic(w http.ResponseWriter, r *http.Request) {
	data, ok := s.Object(r.PathValue("bucket"), r.PathValue("path"))
	if !ok {
		storageError(w, http.StatusNotFound, "not_found", "Object not found")
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) handleFunction(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	h, ok := s.funcs[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Function not found"})
		return
	}
	h.ServeHTTP(w, r)
}
