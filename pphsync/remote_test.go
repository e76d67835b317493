package pphsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/clinical"
	"github.com/Abdulhalim7177/MotivAid-Native-sub001/rowproto"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func staticToken(context.Context) (string, error) { return "test-token", nil }

func newTestRemote(t *testing.T, h http.Handler) *HTTPRemote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewHTTPRemote(srv.URL, staticToken, nil)
	c.BackoffMin = time.Millisecond
	c.BackoffMax = 2 * time.Millisecond
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPRemote_Insert(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rows/{table}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cases", r.PathValue("table"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var row map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		writeJSON(w, http.StatusCreated, rowproto.InsertResponse{ID: "5d1c0e6f-3a2b-4c9d-8e7f-6a5b4c3d2e1f", LocalID: row["local_id"]})
	})
	c := newTestRemote(t, mux)

	id, err := c.Insert(context.Background(), clinical.TableCases, clinical.Row{"local_id": "case-1", "patient_name": "Amina"})
	require.NoError(t, err)
	require.Equal(t, "5d1c0e6f-3a2b-4c9d-8e7f-6a5b4c3d2e1f", id)
}

func TestHTTPRemote_Select(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rows/{table}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "case-1", r.URL.Query().Get("local_id"))
		writeJSON(w, http.StatusOK, map[string]any{
			"rows": []map[string]any{{"id": "r-1", "local_id": "case-1", "patient_age": 27}},
		})
	})
	c := newTestRemote(t, mux)

	rows, err := c.Select(context.Background(), clinical.TableCases, map[string]string{"local_id": "case-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id, ok := rows[0].StringField("id")
	require.True(t, ok)
	require.Equal(t, "r-1", id)
	require.Equal(t, json.Number("27"), rows[0]["patient_age"])
}

func TestHTTPRemote_ErrorMapping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /rows/{table}/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, rowproto.ErrorResponse{Error: rowproto.CodeNotFound, Message: "no such row"})
	})
	mux.HandleFunc("POST /rows/{table}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, rowproto.ErrorResponse{Error: rowproto.ReasonFKMissing, Message: "case_id"})
	})
	mux.HandleFunc("PATCH /rows/{table}/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	c := newTestRemote(t, mux)
	ctx := context.Background()

	err := c.Delete(ctx, clinical.TableContacts, "x")
	require.ErrorIs(t, err, ErrRemoteNotFound)

	_, err = c.Insert(ctx, clinical.TableVitalSigns, clinical.Row{"local_id": "v"})
	var rerr *RemoteError
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusConflict, rerr.StatusCode)
	require.Equal(t, rowproto.ReasonFKMissing, rerr.Code)
	require.False(t, rerr.Retryable())

	err = c.Update(ctx, clinical.TableCases, "x", clinical.Row{})
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusBadGateway, rerr.StatusCode)
	require.Equal(t, "upstream exploded", rerr.Message)
}

func TestHTTPRemote_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /rows/{table}/{id}", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, rowproto.ErrorResponse{Error: rowproto.CodeRetryable, Message: "serialization failure"})
			return
		}
		writeJSON(w, http.StatusOK, rowproto.UpdateResponse{ID: r.PathValue("id")})
	})
	c := newTestRemote(t, mux)

	require.NoError(t, c.Update(context.Background(), clinical.TableCases, "r-1", clinical.Row{"status": "closed"}))
	require.Equal(t, int32(3), calls.Load())

	calls.Store(-10)
	err := c.Update(context.Background(), clinical.TableCases, "r-1", clinical.Row{"status": "closed"})
	var rerr *RemoteError
	require.True(t, errors.As(err, &rerr))
	require.True(t, rerr.Retryable())
}

func TestHTTPRemote_TransportFailureIsNetworkError(t *testing.T) {
	c := NewHTTPRemote("http://pph.invalid", nil, nil)
	c.HTTP = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: no route to host")
	})}

	_, err := c.Insert(context.Background(), clinical.TableCases, clinical.Row{"local_id": "case-1"})
	require.ErrorIs(t, err, ErrNetwork)
}

func TestHTTPProber(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)

	p := NewHTTPProber(srv.URL + "/")
	require.True(t, p.Reachable(context.Background()))

	srv.Close()
	require.False(t, p.Reachable(context.Background()))
}
