package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-micprivacy/internal/audio"
	"github.com/oszuidwest/zwfm-micprivacy/internal/eventlog"
	"github.com/oszuidwest/zwfm-micprivacy/internal/hwport"
	"github.com/oszuidwest/zwfm-micprivacy/internal/notify"
	"github.com/oszuidwest/zwfm-micprivacy/internal/privacy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "testcontrolkey0123456789"

type testEnv struct {
	srv     *httptest.Server
	mgr     *privacy.Manager
	sim     *hwport.Sim
	hub     *notify.Hub
	gateway *audio.Gateway
	events  *eventlog.Logger
}

func newTestEnv(t *testing.T, policy privacy.Policy) *testEnv {
	t.Helper()

	events, err := eventlog.NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)

	sim := hwport.NewSim(hwport.Config{Policy: policy, WaitTimeMs: 50})
	hub := notify.NewHub()
	_, err = hub.Subscribe(notify.EventLogSubscriber{Logger: events}, privacy.TargetAllCores, privacy.SettingsABIVersion)
	require.NoError(t, err)

	mgr := privacy.NewManager(sim, hub)
	require.NoError(t, mgr.Init())

	g := audio.NewGateway("dmic0", mgr, audio.NewToneSource(1000, 48000, 0.5), sim, 480, nil)
	require.NoError(t, g.Start())

	s := NewServer("Test FM", 0, mgr, sim, hub, []*audio.Gateway{g}, events.Path(), nil, testAPIKey)
	ts := httptest.NewServer(s.SetupRoutes())

	t.Cleanup(func() {
		ts.Close()
		mgr.Close()
		sim.Wait()
		g.Stop()
		hub.Wait()
		_ = events.Close()
	})

	return &testEnv{srv: ts, mgr: mgr, sim: sim, hub: hub, gateway: g, events: events}
}

// post sends an authenticated POST when key is not empty.
func post(t *testing.T, url, key string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (e *testEnv) flip(t *testing.T, disabled bool) {
	t.Helper()
	body, err := json.Marshal(map[string]bool{"disabled": disabled})
	require.NoError(t, err)
	resp := post(t, e.srv.URL+"/api/switch", testAPIKey, bytes.NewReader(body))
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	require.Equal(t, http.StatusOK, resp.StatusCode)
	e.sim.Wait()
	e.hub.Wait()
}

func getStatus(t *testing.T, url string) statusResponse {
	t.Helper()
	resp, err := http.Get(url + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var st statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestStatusBeforeAnyInterrupt(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	st := getStatus(t, env.srv.URL)
	assert.Equal(t, "Test FM", st.Station)
	assert.Equal(t, "fw_managed", st.Policy)
	assert.Equal(t, uint32(1), st.PolicyRegister)
	assert.False(t, st.Switch)
	assert.Nil(t, st.Settings)
	require.Len(t, st.Streams, 1)
	assert.Equal(t, "unmuted", st.Streams[0].State)
}

func TestSwitchMutesStreamAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	env.flip(t, true)

	st := getStatus(t, env.srv.URL)
	assert.True(t, st.Switch)
	require.NotNil(t, st.Settings)
	assert.Equal(t, privacy.FirmwareManaged, st.Settings.Mode)
	assert.Equal(t, uint32(1), st.Settings.State)
	assert.Equal(t, uint32(50), st.Settings.MaxRampTimeMs)
	assert.Equal(t, "muted", st.Streams[0].State)

	require.NoError(t, env.gateway.Copy())
	assert.Equal(t, uint64(1), env.gateway.Status().ZeroedCopies)

	resp, err := http.Get(env.srv.URL + "/api/events?filter=privacy")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var page struct {
		Events  []eventlog.Event `json:"events"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, eventlog.PrivacyStateChanged, page.Events[0].Type)
}

func TestSwitchUnderHardwarePolicyDoesNotBroadcast(t *testing.T) {
	env := newTestEnv(t, privacy.HardwareManaged)

	env.flip(t, true)

	st := getStatus(t, env.srv.URL)
	assert.True(t, st.Switch)
	assert.Nil(t, st.Settings)
	assert.Equal(t, "unmuted", st.Streams[0].State)
	assert.False(t, env.sim.Registers().HandlerSet)

	require.NoError(t, env.gateway.Copy())
	assert.Equal(t, uint64(1), env.gateway.Status().ZeroedCopies)
}

func TestSwitchValidation(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	resp := post(t, env.srv.URL+"/api/switch", testAPIKey, strings.NewReader(`{}`))
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSwitchRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	for name, key := range map[string]string{"missing": "", "wrong": "wrongcontrolkey0123456789"} {
		resp := post(t, env.srv.URL+"/api/switch", key, strings.NewReader(`{"disabled":false}`))
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, name)
		assert.Equal(t, false, body["success"], name)
	}

	// Engage the switch, then try to release it without the key.
	env.flip(t, true)
	resp := post(t, env.srv.URL+"/api/switch", "", strings.NewReader(`{"disabled":false}`))
	_ = resp.Body.Close()
	env.sim.Wait()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, env.sim.Switch())
	assert.Equal(t, "muted", getStatus(t, env.srv.URL).Streams[0].State)
}

func TestControlsUnavailableWithoutConfiguredKey(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)
	ts := httptest.NewServer(NewServer("Test FM", 0, env.mgr, env.sim, env.hub, []*audio.Gateway{env.gateway}, env.events.Path(), nil, "").SetupRoutes())
	defer ts.Close()

	resp := post(t, ts.URL+"/api/switch", "", strings.NewReader(`{"disabled":true}`))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, env.sim.Switch())

	// Read-only routes stay public.
	assert.Equal(t, "Test FM", getStatus(t, ts.URL).Station)
}

func TestEventsQueryValidation(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	for query, want := range map[string]int{
		"?limit=abc":    http.StatusBadRequest,
		"?limit=1000":   http.StatusUnprocessableEntity,
		"?filter=audio": http.StatusUnprocessableEntity,
		"?limit=5":      http.StatusOK,
	} {
		resp, err := http.Get(env.srv.URL + "/api/events" + query)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, want, resp.StatusCode, query)
	}
}

func TestTestWebhookNotConfigured(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	resp := post(t, env.srv.URL+"/api/notifications/test-webhook", testAPIKey, nil)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)
	env.flip(t, true)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "micprivacy_interrupts_total")
	assert.Contains(t, string(body), "micprivacy_broadcasts_total")
}

func TestWebSocketReceivesPrivacyBroadcast(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-API-Key": {testAPIKey}})
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	defer conn.Close()      //nolint:errcheck // test cleanup

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first["type"])

	// The subscription is registered before the first status is sent.
	require.Eventually(t, func() bool { return env.hub.Len() == 2 }, time.Second, 5*time.Millisecond)
	env.sim.SetSwitch(true)

	for {
		var msg settingsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != "privacy" {
			continue
		}
		assert.True(t, msg.Muted)
		assert.Equal(t, privacy.FirmwareManaged, msg.Settings.Mode)
		return
	}
}

func TestWebSocketRequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, privacy.FirmwareManaged)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, resp, err := websocket.DefaultDialer.Dial(url+"?key="+testAPIKey, nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	defer conn.Close()      //nolint:errcheck // test cleanup

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first["type"])
}
