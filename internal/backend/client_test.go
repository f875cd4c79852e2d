// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	t         *testing.T
	latest    map[string]string
	history   []string
	lastQuery map[string]string
	submitted []Submission
	simulated int
}

func newFakeBackend(t *testing.T) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{t: t, latest: map[string]string{}}

	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"Token tidak valid"}`)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/api/gps/latest/{id}", func(w http.ResponseWriter, req *http.Request) {
		doc, ok := fb.latest[mux.Vars(req)["id"]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Data GPS tidak ditemukan"}`)
			return
		}
		_, _ = io.WriteString(w, doc)
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/gps/history/{id}", func(w http.ResponseWriter, req *http.Request) {
		fb.lastQuery = map[string]string{}
		for k := range req.URL.Query() {
			fb.lastQuery[k] = req.URL.Query().Get(k)
		}
		_, _ = io.WriteString(w, "[")
		for i, doc := range fb.history {
			if i > 0 {
				_, _ = io.WriteString(w, ",")
			}
			_, _ = io.WriteString(w, doc)
		}
		_, _ = io.WriteString(w, "]")
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/gps", func(w http.ResponseWriter, req *http.Request) {
		var s Submission
		require.NoError(t, json.NewDecoder(req.Body).Decode(&s))
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		fb.submitted = append(fb.submitted, s)
		_, _ = io.WriteString(w, `{"message":"Data GPS berhasil disimpan","id":"abc","status":"moving"}`)
	}).Methods(http.MethodPost)
	r.HandleFunc("/api/gps/simulate", func(w http.ResponseWriter, req *http.Request) {
		fb.simulated++
		_, _ = io.WriteString(w, `{"message":"ok","id":"sim","status":"overspeed"}`)
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return fb, NewClient(srv.URL+"/", "tok", time.Second)
}

func TestLatest(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.latest["SIM001"] = `{"device_id":"SIM001","latitude":1,"longitude":2,"timestamp":"2026-03-14T09:00:00"}`

	raw, err := c.Latest(context.Background(), "SIM001")
	require.NoError(t, err)
	assert.JSONEq(t, fb.latest["SIM001"], string(raw))
}

func TestLatest_NotFoundIsNoSample(t *testing.T) {
	_, c := newFakeBackend(t)

	raw, err := c.Latest(context.Background(), "NOPE")
	assert.NoError(t, err)
	assert.Nil(t, raw)
}

func TestHistory_QueryParameters(t *testing.T) {
	fb, c := newFakeBackend(t)
	fb.history = []string{`{"device_id":"SIM001","n":2}`, `{"device_id":"SIM001","n":1}`}

	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	entries, err := c.History(context.Background(), "SIM001", HistoryQuery{Limit: 10, Start: start, End: end})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.JSONEq(t, fb.history[0], string(entries[0]))
	assert.Equal(t, map[string]string{
		"limit":      "10",
		"start_date": "2026-03-14T00:00:00Z",
		"end_date":   "2026-03-15T00:00:00Z",
	}, fb.lastQuery)
}

func TestHistory_ZeroQueryOmitsParameters(t *testing.T) {
	fb, c := newFakeBackend(t)

	entries, err := c.History(context.Background(), "SIM001", HistoryQuery{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, fb.lastQuery)
}

func TestSubmitAndSimulate(t *testing.T) {
	fb, c := newFakeBackend(t)

	res, err := c.Submit(context.Background(), Submission{DeviceID: "GPS01", Latitude: -6.2, Longitude: 106.8, Speed: 30})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.ID)
	assert.Equal(t, "moving", res.Status)
	require.Len(t, fb.submitted, 1)
	assert.Equal(t, "GPS01", fb.submitted[0].DeviceID)
	assert.Nil(t, fb.submitted[0].Altitude, "unknown altitude is not sent")

	res, err = c.Simulate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "overspeed", res.Status)
	assert.Equal(t, 1, fb.simulated)
}

func TestQueryError_HTTPStatus(t *testing.T) {
	_, c := newFakeBackend(t)
	c.token = "wrong"

	_, err := c.History(context.Background(), "SIM001", HistoryQuery{})
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "history", qe.Op)
	assert.Equal(t, http.StatusUnauthorized, qe.StatusCode)
	assert.Contains(t, err.Error(), "Token tidak valid")
}

func TestQueryError_Transport(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", time.Second)

	_, err := c.Latest(context.Background(), "SIM001")
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Zero(t, qe.StatusCode)
}

func TestQueryError_CancelledContext(t *testing.T) {
	_, c := newFakeBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Latest(ctx, "SIM001")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHistory_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"an array"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).History(context.Background(), "SIM001", HistoryQuery{})
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, http.StatusOK, qe.StatusCode)
}
