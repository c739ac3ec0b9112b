package rest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/syntrixbase/fanout/pkg/model"
)

// tsBatch is one timestamped group of values. A body may carry a single
// batch, an array of batches, or a bare object of values stamped with the
// receive time.
type tsBatch struct {
	Ts     int64                      `json:"ts"`
	Values map[string]json.RawMessage `json:"values"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "Request body too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return nil, false
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Request body is empty")
		return nil, false
	}
	return body, true
}

func (h *Handler) parseTimeseries(body []byte) ([]model.TsKvEntry, error) {
	var batches []tsBatch
	if body[0] == '[' {
		if err := json.Unmarshal(body, &batches); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if _, ok := obj["values"]; ok && len(obj) <= 2 {
			var b tsBatch
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}
			batches = []tsBatch{b}
		} else {
			batches = []tsBatch{{Values: obj}}
		}
	}
	if len(batches) == 0 {
		return nil, errors.New("no values")
	}

	now := h.now().UnixMilli()
	var entries []model.TsKvEntry
	for _, b := range batches {
		ts := b.Ts
		if ts == 0 {
			ts = now
		}
		if ts < 0 {
			return nil, fmt.Errorf("negative timestamp %d", ts)
		}
		kvs, err := parseValues(b.Values)
		if err != nil {
			return nil, err
		}
		for _, kv := range kvs {
			entries = append(entries, model.TsKvEntry{Ts: ts, KvEntry: kv})
		}
	}
	return entries, nil
}

func (h *Handler) handleSaveTimeseries(w http.ResponseWriter, r *http.Request) {
	tenantID, entityID, ok := parseTarget(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	entries, err := h.parseTimeseries(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := h.writer.SaveTimeseries(r.Context(), tenantID, entityID, entries); err != nil {
		writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(entries)})
}

func (h *Handler) handleDeleteTimeseries(w http.ResponseWriter, r *http.Request) {
	tenantID, entityID, ok := parseTarget(w, r)
	if !ok {
		return
	}
	keys, err := parseKeys(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := h.writer.DeleteTimeseries(r.Context(), tenantID, entityID, keys); err != nil {
		writeWriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSaveAttributes(w http.ResponseWriter, r *http.Request) {
	tenantID, entityID, ok := parseTarget(w, r)
	if !ok {
		return
	}
	scope, err := model.ParseAttributeScope(r.PathValue("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(body, &values); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON object")
		return
	}
	kvs, err := parseValues(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	now := h.now().UnixMilli()
	attrs := make([]model.AttributeKvEntry, len(kvs))
	for i, kv := range kvs {
		attrs[i] = model.AttributeKvEntry{LastUpdateTs: now, KvEntry: kv}
	}
	if err := h.writer.SaveAttributes(r.Context(), tenantID, entityID, scope, attrs); err != nil {
		writeWriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(attrs)})
}

func (h *Handler) handleDeleteAttributes(w http.ResponseWriter, r *http.Request) {
	tenantID, entityID, ok := parseTarget(w, r)
	if !ok {
		return
	}
	scope, err := model.ParseAttributeScope(r.PathValue("scope"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	keys, err := parseKeys(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := h.writer.DeleteAttributes(r.Context(), tenantID, entityID, scope, keys); err != nil {
		writeWriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
