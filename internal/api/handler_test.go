package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitesh/incident_map/internal/classify"
	"github.com/nitesh/incident_map/internal/service"
	"github.com/nitesh/incident_map/internal/spatial"
	"github.com/nitesh/incident_map/pkg/models"
)

// memStore keeps events in insertion order; listing returns newest inserts
// first, which matches timestamp order for the fixtures below.
type memStore struct {
	mu        sync.Mutex
	events    []models.RawEvent
	summaries []models.ClusterSummary
}

func (m *memStore) SaveMany(_ context.Context, events []*models.RawEvent) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for _, e := range events {
		e.ID = int64(len(m.events) + 1)
		m.events = append(m.events, *e)
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (m *memStore) Recent(_ context.Context, f models.EventFilter) ([]models.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RawEvent{}
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if (f.VerifiedOnly && !e.Verified) || (f.EventType != "" && e.EventType != f.EventType) {
			continue
		}
		if e.Timestamp != nil && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) GetByIDs(_ context.Context, ids []int64) ([]models.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RawEvent{}
	for _, id := range ids {
		if id >= 1 && int(id) <= len(m.events) {
			out = append(out, m.events[id-1])
		}
	}
	return out, nil
}

func (m *memStore) Stats(_ context.Context, _ time.Time) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.Stats{ByType: map[string]int{}}
	for _, e := range m.events {
		st.Total++
		if e.Verified {
			st.Verified++
		}
		st.ByType[string(e.EventType)]++
	}
	return st, nil
}

func (m *memStore) near(e models.RawEvent, q models.NearbyQuery) bool {
	return e.EventType == q.EventType &&
		spatial.HaversineKm(models.Coordinate{Latitude: q.Latitude, Longitude: q.Longitude}, e.Coordinates()) <= q.RadiusKm
}

func (m *memStore) CountNearby(_ context.Context, q models.NearbyQuery) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if m.near(e, q) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) VerifyNearby(_ context.Context, q models.NearbyQuery) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.events {
		if !m.events[i].Verified && m.near(m.events[i], q) {
			m.events[i].Verified = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) SaveSummary(_ context.Context, s *models.ClusterSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, *s)
	return nil
}

func (m *memStore) SummariesFor(_ context.Context, id int64) ([]models.ClusterSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ClusterSummary
	for _, s := range m.summaries {
		for _, mid := range s.MemberIDs {
			if mid == id {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type staticSummarizer string

func (s staticSummarizer) SummarizeCluster(context.Context, []string) (string, error) {
	return string(s), nil
}

func newRouter(t *testing.T, llm service.Summarizer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rules, err := classify.DefaultRuleSet()
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)

	svc := service.NewService(&memStore{}, nil, llm, rules, service.DefaultOptions(), log)
	r := gin.New()
	RegisterRoutes(r, NewHandler(svc, log))
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const twoReports = `[
  {"title": "BBC Persian: clash reported", "latitude": 35.70, "longitude": 51.40, "event_type": "clash"},
  {"title": "Protest continues", "latitude": 35.701, "longitude": 51.401, "event_type": "protest",
   "source_url": "https://t.me/randomchannel/12"}
]`

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())

	do(r, http.MethodGet, "/v1/clusters", "")
	w = do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "incident_map_cluster_cache_misses_total")
}

func TestIngestAndClusters(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/events/ingest", twoReports)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	meta := decode(t, w)["meta"].(map[string]any)
	assert.Equal(t, 2.0, meta["imported"])

	w = do(r, http.MethodGet, "/v1/clusters?radius_km=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 12.0, body["meta"].(map[string]any)["hours"], "default window reported")
	data := body["data"].([]any)
	require.Len(t, data, 1)
	rec := data[0].(map[string]any)
	assert.Equal(t, true, rec["is_cluster"])
	assert.Equal(t, 2.0, rec["cluster_count"])
	assert.Equal(t, map[string]any{"clash": 1.0, "protest": 1.0}, rec["type_breakdown"])
	assert.Equal(t, map[string]any{"bbc_persian": 1.0, "telegram_other": 1.0}, rec["source_breakdown"])

	w = do(r, http.MethodGet, "/v1/clusters?radius_km=0&hours=24", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, 24.0, body["meta"].(map[string]any)["hours"])
}

func TestIngest_BadInput(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/events/ingest", `{"not": "an array"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/events/ingest", `[{"title": "nowhere", "latitude": 35.7}]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "invalid_input")
}

func TestEventsGeoJSON(t *testing.T) {
	r := newRouter(t, nil)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/events/ingest", twoReports).Code)

	w := do(r, http.MethodGet, "/v1/events?source=bbc_persian", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "FeatureCollection", body["type"])
	features := body["features"].([]any)
	require.Len(t, features, 1)

	f := features[0].(map[string]any)
	geom := f["geometry"].(map[string]any)
	assert.Equal(t, []any{51.40, 35.70}, geom["coordinates"])
	props := f["properties"].(map[string]any)
	assert.Equal(t, "bbc_persian", props["source_id"])
	assert.Equal(t, "clash", props["event_type"])
	assert.Nil(t, props["timestamp"])

	for _, path := range []string{"/v1/events?hours=0", "/v1/events?hours=abc", "/v1/events?verified_only=maybe", "/v1/events?event_type=riot"} {
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, path, "").Code, path)
	}
}

func TestClusters_BadRadius(t *testing.T) {
	r := newRouter(t, nil)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/clusters?radius_km=wide", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/clusters?radius_km=-3", "").Code)
}

func TestClusterSummary(t *testing.T) {
	r := newRouter(t, nil)
	w := do(r, http.MethodPost, "/v1/clusters/summary", `{"ids": [1]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	r = newRouter(t, staticSummarizer("Clashes and a protest near the square."))
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/events/ingest", twoReports).Code)

	w = do(r, http.MethodPost, "/v1/clusters/summary", `{"ids": [1, 2]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sum := decode(t, w)
	assert.Equal(t, "Clashes and a protest near the square.", sum["summary"])
	assert.Equal(t, []any{1.0, 2.0}, sum["member_ids"])

	w = do(r, http.MethodGet, "/v1/events/2/summaries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/v1/clusters/summary", `{"ids": [77]}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/clusters/summary", `{"ids": []}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/events/abc/summaries", "").Code)
}

func TestPPUAndStats(t *testing.T) {
	r := newRouter(t, nil)

	for i := 0; i < 5; i++ {
		w := do(r, http.MethodPost, "/v1/ppu/report", `{"latitude": 35.7, "longitude": 51.4, "intensity": 4}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		res := decode(t, w)
		assert.Equal(t, i == 4, res["verified"], "report %d", i)
	}
	w := do(r, http.MethodPost, "/v1/ppu/report", `{"latitude": 35.7, "longitude": 51.4, "intensity": 9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/v1/ppu/active?hours=6", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 5.0, body["count"])
	assert.Equal(t, 6.0, body["hours_window"])
	props := body["features"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, 0.0, props["age_minutes"])
	assert.Equal(t, true, props["verified"])
	assert.True(t, strings.HasPrefix(props["title"].(string), "PPU"))

	w = do(r, http.MethodGet, "/v1/ppu/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6.0, decode(t, w)["hours_window"], "default window reported")

	w = do(r, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_events":5,"verified_events":5,"by_type":{"police_presence":5}}`, w.Body.String())
}
