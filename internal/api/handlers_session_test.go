package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/machine-monitor/backend/internal/models"
)

func waitTerminal(t *testing.T, env *testEnv, id string) models.SessionSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := env.sessions.Wait(ctx, id)
	require.NoError(t, err)
	return snap
}

func TestHealthAndCatalog(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())

	rec := env.do(t, http.MethodGet, "/api/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.True(t, strings.HasSuffix(health["predictor"], "/api/predict"))

	rec = env.do(t, http.MethodGet, "/api/catalog", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var catalog struct {
		Labels              []string `json:"labels"`
		PlaceholderFeatures []string `json:"placeholderFeatures"`
		Statuses            []struct {
			Status string `json:"status"`
			Color  string `json:"color"`
		} `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.Equal(t, []string{"ADF", "FL", "NS", "NT", "CT", "TB", "BE", "AD"}, catalog.Labels)
	assert.Len(t, catalog.PlaceholderFeatures, 12)
	require.Len(t, catalog.Statuses, 5)
	assert.Equal(t, "READY", catalog.Statuses[0].Status)
	assert.Equal(t, "blue", catalog.Statuses[0].Color)
	assert.Equal(t, "green", catalog.Statuses[3].Color)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())

	snap := env.createSession(t)
	assert.Equal(t, models.StatusReady, snap.Status)
	assert.False(t, snap.AnalyzeEnabled)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snap.ID, decode[models.SessionSnapshot](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/keepalive", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+snap.ID, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/keepalive", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeWithoutFile(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+snap.ID+"/analyze", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NO_FILE", decodeError(t, rec).Code)
	assert.Equal(t, 0, env.stub.Calls())
}

func TestSelectFile(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)
	env.store.AddFile("file-1", "sensor.csv", []byte("1,2,3"))
	path := "/api/sessions/" + snap.ID + "/file"

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		errCode    string
	}{
		{"missing fileId", map[string]string{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown file", map[string]string{"fileId": "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"known file", map[string]string{"fileId": "file-1"}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.doJSON(t, http.MethodPut, path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.errCode != "" {
				assert.Equal(t, tt.errCode, decodeError(t, rec).Code)
				return
			}
			got := decode[models.SessionSnapshot](t, rec)
			assert.Equal(t, models.StatusFileLoaded, got.Status)
			assert.True(t, got.AnalyzeEnabled)
			require.NotNil(t, got.File)
			assert.Equal(t, "sensor.csv", got.File.Name)
		})
	}

	rec := env.doJSON(t, http.MethodPut, "/api/sessions/missing/file", map[string]string{"fileId": "file-1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetOptions(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)
	path := "/api/sessions/" + snap.ID + "/options"

	rec := env.doJSON(t, http.MethodPut, path, map[string]interface{}{"delimiter": ";", "transpose": true})
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[models.SessionSnapshot](t, rec)
	assert.Equal(t, ";", got.Options.Delimiter)
	assert.True(t, got.Options.Transpose)

	rec = env.doJSON(t, http.MethodPut, path, map[string]interface{}{"delimiter": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ",", decode[models.SessionSnapshot](t, rec).Options.Delimiter)

	rec = env.doJSON(t, http.MethodPut, path, map[string]interface{}{"delimiter": strings.Repeat("|", 17)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Contains(t, apiErr.Message, "delimiter")

	rec = env.doJSON(t, http.MethodPut, path, map[string]interface{}{"delimiter": ",\n"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr = decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, "delimiter must not contain line breaks", apiErr.Details)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+snap.ID, nil, "")
	assert.Equal(t, ",", decode[models.SessionSnapshot](t, rec).Options.Delimiter)
}

func TestUploadSelectAnalyze(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)
	base := "/api/sessions/" + snap.ID

	rec := env.upload(t, base+"/file", "sensor.csv", "10,20,30\n40,50,60")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusFileLoaded, decode[models.SessionSnapshot](t, rec).Status)

	rec = env.do(t, http.MethodGet, base+"/result/msgpack", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_COMPLETE", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, base+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.StatusAnalyzing, decode[models.SessionSnapshot](t, rec).Status)

	done := waitTerminal(t, env, snap.ID)
	require.Equal(t, models.StatusComplete, done.Status)

	rec = env.do(t, http.MethodGet, base, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"label":"NS"`)
	assert.Contains(t, body, `"features":{"Mean":35,"Median":35,"Count":6}`)

	rec = env.do(t, http.MethodGet, base+"/result/msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get("Content-Type"))

	var result models.AnalysisResult
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "NS", result.Label)
	assert.Equal(t, "sensor.csv", result.FileName)
	assert.Equal(t, 6, result.SampleCount)
	assert.Equal(t, []string{"Mean", "Median", "Count"}, result.Features.Names())
}

func TestUploadAndSelectRejectsType(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)

	rec := env.upload(t, "/api/sessions/"+snap.ID+"/file", "sensor.xlsx", "1,2")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	got, ok := env.sessions.Get(snap.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusReady, got.Status)
}

func TestAnalyzeInFlight(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)
	base := "/api/sessions/" + snap.ID
	env.store.AddFile("file-1", "sensor.csv", []byte("1,2,3"))

	rec := env.doJSON(t, http.MethodPut, base+"/file", map[string]string{"fileId": "file-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	env.stub.Hold()
	rec = env.do(t, http.MethodPost, base+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/analyze", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ANALYSIS_IN_FLIGHT", decodeError(t, rec).Code)

	rec = env.doJSON(t, http.MethodPut, base+"/file", map[string]string{"fileId": "file-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.upload(t, base+"/file", "other.csv", "4,5")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, base, nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.stub.Release()
	assert.Equal(t, models.StatusComplete, waitTerminal(t, env, snap.ID).Status)
	assert.Equal(t, 1, env.stub.Calls())
}

func TestAnalyzeFailureSurfacesKind(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	env.stub.Respond(http.StatusBadGateway, "upstream down")
	snap := env.createSession(t)
	base := "/api/sessions/" + snap.ID

	rec := env.upload(t, base+"/file", "sensor.csv", "1,2,3")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, base+"/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitTerminal(t, env, snap.ID)

	rec = env.do(t, http.MethodGet, base, nil, "")
	got := decode[models.SessionSnapshot](t, rec)
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, models.ErrorKindNetwork, got.ErrorKind)
	assert.NotContains(t, rec.Body.String(), `"features"`)
	assert.NotContains(t, rec.Body.String(), `"label"`)
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/"+snap.ID+"/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan models.SessionSnapshot, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var s models.SessionSnapshot
				if json.Unmarshal([]byte(data), &s) == nil && s.ID != "" {
					events <- s
				}
			}
		}
		close(events)
	}()

	first := <-events
	assert.Equal(t, models.StatusReady, first.Status)

	env.store.AddFile("file-1", "sensor.csv", []byte("1,2,3"))
	rec := env.doJSON(t, http.MethodPut, "/api/sessions/"+snap.ID+"/file", map[string]string{"fileId": "file-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case next := <-events:
		assert.Equal(t, models.StatusFileLoaded, next.Status)
	case <-ctx.Done():
		t.Fatal("no event after file selection")
	}

	rec = env.do(t, http.MethodGet, "/api/sessions/missing/stream", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusStreamOutlivesWriteTimeout(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)

	srv := httptest.NewUnstartedServer(env.e)
	srv.Config.WriteTimeout = 200 * time.Millisecond
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/"+snap.ID+"/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statuses := make(chan models.AnalysisStatus, 8)
	go func() {
		defer close(statuses)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				var s models.SessionSnapshot
				if json.Unmarshal([]byte(data), &s) == nil && s.ID != "" {
					statuses <- s.Status
				}
			}
		}
	}()

	assert.Equal(t, models.StatusReady, <-statuses)

	time.Sleep(3 * srv.Config.WriteTimeout)

	env.store.AddFile("file-1", "sensor.csv", []byte("1,2,3"))
	rec := env.doJSON(t, http.MethodPut, "/api/sessions/"+snap.ID+"/file", map[string]string{"fileId": "file-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case status, ok := <-statuses:
		require.True(t, ok, "stream closed after the write timeout")
		assert.Equal(t, models.StatusFileLoaded, status)
	case <-ctx.Done():
		t.Fatal("no event after file selection")
	}
}

func TestWebSocketFeed(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())
	snap := env.createSession(t)
	env.store.AddFile("file-1", "sensor.csv", []byte("1,2,3"))
	rec := env.doJSON(t, http.MethodPut, "/api/sessions/"+snap.ID+"/file", map[string]string{"fileId": "file-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sessions/" + snap.ID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	readStatus := func() (WSMessage, models.SessionSnapshot) {
		var msg WSMessage
		require.NoError(t, ws.ReadJSON(&msg))
		var s models.SessionSnapshot
		if msg.Type == MsgTypeStatus {
			require.NoError(t, json.Unmarshal(msg.Payload, &s))
		}
		return msg, s
	}

	msg, s := readStatus()
	require.Equal(t, MsgTypeStatus, msg.Type)
	assert.Equal(t, models.StatusFileLoaded, s.Status)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypePing}))
	msg, _ = readStatus()
	assert.Equal(t, MsgTypePong, msg.Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: MsgTypeAnalyze}))
	for {
		msg, s = readStatus()
		require.Equal(t, MsgTypeStatus, msg.Type)
		if s.Status == models.StatusComplete {
			assert.Equal(t, "NS", s.Label)
			break
		}
	}

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "shutdown"}))
	msg, _ = readStatus()
	assert.Equal(t, MsgTypeError, msg.Type)
	assert.Contains(t, string(msg.Payload), "UNKNOWN_MESSAGE")
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())

	rec := env.do(t, http.MethodGet, "/api/ws/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, defaultPolicy())

	rec := env.do(t, http.MethodGet, "/api/nothing-here", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HTTP_ERROR", decodeError(t, rec).Code)
}
