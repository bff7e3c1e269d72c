package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwarden/internal/config"
	"netwarden/internal/engine"
	"netwarden/internal/ensemble"
	"netwarden/internal/metrics"
	"netwarden/internal/model"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type threatOn4444 struct{}

func (threatOn4444) Name() string        { return "threat_on_4444" }
func (threatOn4444) Kind() ensemble.Kind { return ensemble.KindClassifier }
func (threatOn4444) Predict(fv model.FeatureVector) (float64, error) {
	if fv[model.FeatDstPort] == 4444 {
		return 0.99, nil
	}
	return 0.05, nil
}

type fixture struct {
	srv *httptest.Server
	eng *engine.Engine
	cfg *config.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	reg := prometheus.NewRegistry()
	eng, err := engine.NewEngine(cfg, nil, engine.Deps{
		Collectors: metrics.NewCollectors(reg),
		Predictors: []ensemble.Predictor{threatOn4444{}},
		Clock:      func() time.Time { return t0.Add(time.Minute) },
	})
	require.NoError(t, err)
	mgr := config.NewStaticManager(cfg)
	srv := httptest.NewServer(NewServer(mgr, eng, reg, nil, "test").Handler())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, eng: eng, cfg: mgr}
}

func flow(src string, dport int) model.NetworkEvent {
	return model.NetworkEvent{
		Kind:      model.KindFlow,
		Timestamp: t0,
		SrcIP:     src,
		SrcPort:   50000,
		DstPort:   dport,
		Protocol:  6,
		Flow:      &model.FlowInfo{ConnCount: 1, PacketRate: 5},
	}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.eng.ProcessEvent(flow("10.0.0.5", 443))

	var body statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/status", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.True(t, body.Ingest.REST)
	assert.Equal(t, 1, body.Engine.Entities.Records)
	assert.Equal(t, []string{"threat_on_4444"}, body.Engine.Predictors)
}

func TestEntitiesAndEntityReport(t *testing.T) {
	f := newFixture(t)
	f.eng.ProcessEvent(flow("10.0.0.5", 443))
	f.eng.ProcessEvent(flow("203.0.113.5", 4444))

	var list struct {
		Entities []model.ThreatRecord `json:"entities"`
		Count    int                  `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/entities", &list))
	assert.Equal(t, 2, list.Count)

	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/entities?blacklisted=true", &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "ip:203.0.113.5", list.Entities[0].Key.String())

	var report engine.EntityReport
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/entities/ip:203.0.113.5", &report))
	assert.True(t, report.Record.Blacklisted)
	assert.NotEmpty(t, report.Alerts)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/entities/ip:192.0.2.1", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/entities/nonsense", nil))
}

func TestUnblock(t *testing.T) {
	f := newFixture(t)
	f.eng.ProcessEvent(flow("203.0.113.5", 4444))

	resp := post(t, f.srv.URL+"/entities/203.0.113.5/unblock", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body struct {
		Action model.Action `json:"action"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, model.ActionUnblock, body.Action.Type)

	assert.Equal(t, http.StatusConflict, post(t, f.srv.URL+"/entities/203.0.113.5/unblock", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, post(t, f.srv.URL+"/entities/192.0.2.9/unblock", "").StatusCode)

	var action model.Action
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/actions/"+body.Action.ID, &action))
	assert.Equal(t, body.Action.ID, action.ID)
}

func TestActionsAndAlerts(t *testing.T) {
	f := newFixture(t)
	f.eng.ProcessEvent(flow("203.0.113.5", 4444))

	var actions struct {
		Actions []model.Action `json:"actions"`
		Count   int            `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/actions", &actions))
	assert.Equal(t, 2, actions.Count)
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/actions?limit=1", &actions))
	assert.Equal(t, 1, actions.Count)

	var alerts struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/alerts?entity=ip:203.0.113.5", &alerts))
	require.Equal(t, 1, alerts.Count)
	assert.Equal(t, "entity_blacklisted", alerts.Alerts[0].AlertType)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/alerts?since=yesterday", nil))

	require.Equal(t, http.StatusOK, post(t, f.srv.URL+"/admin/clear", `{"target":"alerts"}`).StatusCode)
	require.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/alerts", &alerts))
	assert.Zero(t, alerts.Count)
}

func TestAccessControlUpdate(t *testing.T) {
	f := newFixture(t)
	resp := post(t, f.srv.URL+"/config/access_control", `{"allowlist":[" ip:203.0.113.5 ",""],"denylist":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"ip:203.0.113.5"}, f.cfg.Get().Access.Allowlist)

	res := f.eng.ProcessEvent(flow("203.0.113.5", 4444))
	for _, a := range res.Actions {
		assert.NotEqual(t, model.ActionBlock, a.Type)
	}

	assert.Equal(t, http.StatusBadRequest,
		post(t, f.srv.URL+"/config/access_control", `{"denylist":["not a key"]}`).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.eng.ProcessEvent(flow("10.0.0.5", 443))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `netwarden_events_total{kind="flow"} 1`)
}
