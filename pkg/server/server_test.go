package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/query"
	"github.com/lanceczlt/Pun-Generator/pkg/rhyme"
	"github.com/lanceczlt/Pun-Generator/pkg/tokenize"
)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.DriverCGO, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tok, err := tokenize.New(tokenize.Strict)
	require.NoError(t, err)
	im := facts.NewImporter(tok, zerolog.Nop())
	_, err = im.ImportRaw(ctx, conn, []byte(`{"type":"phrase","phrase":"a stitch in time saves nine","source":{"name":"proverbs"}}`))
	require.NoError(t, err)

	engine := query.NewEngine(conn, rhyme.Static{"pine": {"nine"}})
	srv := httptest.NewServer(New(engine, conn, Options{CORS: []string{"*"}, Version: "test"}, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postQuery(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url+"/api/v1/query", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestQueryEndpoint(t *testing.T) {
	srv := setupServer(t)

	for _, body := range []string{
		`{"input":"pine"}`,
		`{"input":["pine"],"mode":"word","sources":["proverbs"]}`,
	} {
		resp, out := postQuery(t, srv.URL, body)
		assert.Equal(t, http.StatusOK, resp.StatusCode, body)
		assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
		results := out["results"].([]any)
		require.Len(t, results, 1, body)
		r := results[0].(map[string]any)
		assert.Equal(t, "a stitch in time saves pine", r["rhymed_phrase"])
		assert.Equal(t, "proverbs", r["metadata"].(map[string]any)["source"])
	}
}

func TestQueryEndpointEmptyResults(t *testing.T) {
	srv := setupServer(t)
	resp, out := postQuery(t, srv.URL, `{"input":"pine","sources":["elsewhere"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, out["results"])
}

func TestQueryEndpointBadRequests(t *testing.T) {
	srv := setupServer(t)
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"input":42}`,
		`{"input":"pine","mode":"sentence"}`,
		`{"input":"pine","extra":true}`,
	} {
		resp, out := postQuery(t, srv.URL, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, out["error"], body)
	}
}

type failingQuerier struct{ err error }

func (f failingQuerier) FindRhymes(context.Context, query.Request) ([]query.Result, error) {
	return nil, f.err
}

func TestQueryEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&rhyme.Error{Word: "pine", Status: 503}, http.StatusBadGateway},
		{fmt.Errorf("scan: %w", db.ErrStore), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", query.ErrInvalidMode), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(New(failingQuerier{tc.err}, nil, Options{}, zerolog.Nop()).Handler())
		resp, _ := postQuery(t, srv.URL, `{"input":"pine"}`)
		assert.Equal(t, tc.want, resp.StatusCode, tc.err.Error())
		srv.Close()
	}
}

type downStore struct{}

func (downStore) PingContext(context.Context) error { return errors.New("database is locked") }

func TestHealth(t *testing.T) {
	srv := setupServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := httptest.NewServer(New(failingQuerier{}, downStore{}, Options{}, zerolog.Nop()).Handler())
	defer down.Close()
	resp2, err := http.Get(down.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestMetricsAndCORS(t *testing.T) {
	srv := setupServer(t)
	postQuery(t, srv.URL, `{"input":"pine"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/query", nil)
	require.NoError(t, err)
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	assert.Equal(t, http.StatusNoContent, pre.StatusCode)
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := setupServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}
