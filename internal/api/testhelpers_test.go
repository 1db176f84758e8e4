package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/machine-monitor/backend/internal/models"
	"github.com/machine-monitor/backend/internal/parser"
	"github.com/machine-monitor/backend/internal/predict"
	"github.com/machine-monitor/backend/internal/session"
	"github.com/machine-monitor/backend/internal/testutil"
)

const okPrediction = `{"features":{"Mean":35,"Median":35,"Count":6},"label":"NS"}`

type testEnv struct {
	e        *echo.Echo
	store    *testutil.MockStorage
	stub     *testutil.PredictStub
	sessions *session.Manager
}

func newTestEnv(t *testing.T, policy FilePolicy) *testEnv {
	t.Helper()

	stub := testutil.NewPredictStub(t, okPrediction)
	client, err := predict.New(predict.Options{BaseURL: stub.URL(), Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := testutil.NewMockStorage()
	sessions := session.NewManager(store, client, session.WithLogger(logger))
	t.Cleanup(sessions.Close)

	e := echo.New()
	SetupMiddleware(e, MiddlewareConfig{Logger: logger})
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:        store,
		Sessions:     sessions,
		Catalog:      parser.DefaultCatalog(),
		Policy:       policy,
		PredictorURL: client.URL(),
		Version:      "test",
		Logger:       logger,
	}))

	return &testEnv{e: e, store: store, stub: stub, sessions: sessions}
}

func defaultPolicy() FilePolicy {
	return FilePolicy{AllowedTypes: []string{".csv"}, AllowFileDeletion: true}
}

func (env *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(t *testing.T, method, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return env.do(t, method, path, body, echo.MIMEApplicationJSON)
}

func (env *testEnv) upload(t *testing.T, path, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.Copy(part, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return env.do(t, http.MethodPost, path, body, writer.FormDataContentType())
}

func (env *testEnv) createSession(t *testing.T) models.SessionSnapshot {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/sessions", nil, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[models.SessionSnapshot](t, rec)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	return decode[APIError](t, rec)
}
