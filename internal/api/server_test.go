package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pricepulse/shopcrawler/internal/catalog"
	"github.com/pricepulse/shopcrawler/internal/control"
	"github.com/pricepulse/shopcrawler/internal/stats"
)

type fakeQueue struct {
	depth    int
	admitted int
}

func (q fakeQueue) Depth() int    { return q.depth }
func (q fakeQueue) Admitted() int { return q.admitted }

func newTestServer(t *testing.T) (*Server, *stats.Stats) {
	t.Helper()
	reg := prometheus.NewRegistry()
	st := stats.New(reg)
	ctrl := control.NewController(control.Config{}, zap.NewNop())
	return NewServer("run-1", "de_de", "shallow", st, ctrl, fakeQueue{depth: 3, admitted: 42}, reg, zap.NewNop()), st
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestStatusReportsRunState(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	st.PageProcessed(catalog.PageListing)
	st.RecordsSaved(7)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "run-1", resp.RunID)
	require.Equal(t, "de_de", resp.Market)
	require.Equal(t, "shallow", resp.Mode)
	require.Equal(t, 3, resp.QueueDepth)
	require.Equal(t, 42, resp.Admitted)
	require.Equal(t, control.ModeNormal, resp.Controller.Mode)
	require.Equal(t, int64(7), resp.Summary.RecordsSaved)
	require.Equal(t, 1, resp.Summary.PagesByType[catalog.PageListing])
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	st.RecordsSaved(5)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "shopcrawler_records_saved_total 5"))
}
