// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package rowapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/internal/auth"
	"github.com/Abdulhalim7177/MotivAid-Native-sub001/rowproto"
)

const maxBodyBytes = 1 << 20

// RowStore is the storage behind the HTTP handlers; *Service implements it.
type RowStore interface {
	Insert(ctx context.Context, deviceID, table string, row map[string]any) (string, error)
	Update(ctx context.Context, deviceID, table, id string, fields map[string]any) error
	Delete(ctx context.Context, table, id string) error
	Select(ctx context.Context, table string, filter map[string]string, limit int) ([]json.RawMessage, error)
}

// HTTPHandlers serves the /rows API
type HTTPHandlers struct {
	store  RowStore
	logger *slog.Logger
}

func NewHTTPHandlers(store RowStore, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{store: store, logger: logger}
}

// Register mounts the row endpoints on mux behind authn.
func (h *HTTPHandlers) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	mux.Handle("POST /rows/{table}", authn(http.HandlerFunc(h.HandleInsert)))
	mux.Handle("PATCH /rows/{table}/{id}", authn(http.HandlerFunc(h.HandleUpdate)))
	mux.Handle("DELETE /rows/{table}/{id}", authn(http.HandlerFunc(h.HandleDelete)))
	mux.Handle("GET /rows/{table}", authn(http.HandlerFunc(h.HandleSelect)))
}

func decodeRow(r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// HandleInsert stores a row posted by a collector
func (h *HTTPHandlers) HandleInsert(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	deviceID, _ := auth.GetDeviceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	row, err := decodeRow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, rowproto.CodeInvalidRequest, "failed to parse row")
		return
	}

	id, err := h.store.Insert(r.Context(), deviceID, table, row)
	if err != nil {
		h.writeStoreError(w, "insert", table, err)
		return
	}
	localID, _ := row["local_id"].(string)
	writeJSON(w, http.StatusCreated, rowproto.InsertResponse{ID: id, LocalID: localID})
}

// HandleUpdate overwrites the posted columns of one row
func (h *HTTPHandlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	table, id := r.PathValue("table"), r.PathValue("id")
	deviceID, _ := auth.GetDeviceID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields, err := decodeRow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, rowproto.CodeInvalidRequest, "failed to parse fields")
		return
	}

	if err := h.store.Update(r.Context(), deviceID, table, id, fields); err != nil {
		h.writeStoreError(w, "update", table, err)
		return
	}
	writeJSON(w, http.StatusOK, rowproto.UpdateResponse{ID: id})
}

// HandleDelete removes one row
func (h *HTTPHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	table, id := r.PathValue("table"), r.PathValue("id")
	if err := h.store.Delete(r.Context(), table, id); err != nil {
		h.writeStoreError(w, "delete", table, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSelect lists rows matching the query parameters; "limit" bounds the
// result size.
func (h *HTTPHandlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	q := r.URL.Query()

	limit := 0
	if ls := q.Get("limit"); ls != "" {
		v, err := strconv.Atoi(ls)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, rowproto.CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = v
		q.Del("limit")
	}
	filter := make(map[string]string, len(q))
	for k := range q {
		filter[k] = q.Get(k)
	}

	rows, err := h.store.Select(r.Context(), table, filter, limit)
	if err != nil {
		h.writeStoreError(w, "select", table, err)
		return
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, rowproto.SelectResponse{Rows: rows})
}

func (h *HTTPHandlers) writeStoreError(w http.ResponseWriter, op, table string, err error) {
	switch {
	case errors.Is(err, ErrUnregisteredTable):
		writeError(w, http.StatusNotFound, rowproto.ReasonUnregisteredTable, err.Error())
	case errors.Is(err, ErrUnknownColumn):
		writeError(w, http.StatusBadRequest, rowproto.ReasonUnknownColumn, err.Error())
	case errors.Is(err, ErrBadPayload):
		writeError(w, http.StatusBadRequest, rowproto.ReasonBadPayload, err.Error())
	case errors.Is(err, ErrFKMissing):
		writeError(w, http.StatusConflict, rowproto.ReasonFKMissing, err.Error())
	case errors.Is(err, ErrRowNotFound):
		writeError(w, http.StatusNotFound, rowproto.CodeNotFound, err.Error())
	case errors.Is(err, ErrRetryable):
		writeError(w, http.StatusServiceUnavailable, rowproto.CodeRetryable, "transient conflict, retry")
	default:
		h.logger.Error("Row operation failed", "op", op, "table", table, "error", err)
		writeError(w, http.StatusInternalServerError, rowproto.CodeInternalError, "failed to "+op+" row")
	}
}

// NewSigninHandler returns a development signin endpoint: any password is
// accepted and a token for the given user and device is issued.
func NewSigninHandler(jwtAuth *JWTAuth, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req rowproto.SigninRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, rowproto.CodeInvalidRequest, "invalid JSON")
			return
		}
		if req.User == "" {
			writeError(w, http.StatusBadRequest, rowproto.CodeInvalidRequest, "user required")
			return
		}
		if req.Device == "" {
			req.Device = "device-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		tok, err := jwtAuth.GenerateToken(req.User, req.Device, ttl)
		if err != nil {
			writeError(w, http.StatusInternalServerError, rowproto.CodeInternalError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rowproto.SigninResponse{Token: tok, ExpiresIn: int64(ttl / time.Second), User: req.User, Device: req.Device})
		logger.Info("Issued development token", "user", req.User, "device", req.Device)
	}
}

// HandleHealth provides a simple health check endpoint
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status": "healthy", "service": "pph-rowapi"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a standardized error response
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, rowproto.ErrorResponse{Error: errorCode, Message: message})
	slog.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
