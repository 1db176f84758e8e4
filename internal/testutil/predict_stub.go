// predict_stub.go - Stub prediction service for testing
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// PredictStub is an httptest server standing in for the remote prediction
// service. It records every payload it receives.
type PredictStub struct {
	Server *httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	gate     chan struct{}
	payloads [][]float64
}

// NewPredictStub starts a stub answering 200 with body. The server is closed
// when the test ends.
func NewPredictStub(t *testing.T, body string) *PredictStub {
	t.Helper()
	s := &PredictStub{status: http.StatusOK, body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(func() {
		s.Release()
		s.Server.Close()
	})
	return s
}

// URL returns the stub's base URL.
func (s *PredictStub) URL() string {
	return s.Server.URL
}

// Respond changes the status code and body of later responses.
func (s *PredictStub) Respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.body = body
}

// Hold makes later requests block until Release is called.
func (s *PredictStub) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
}

// Release unblocks held requests.
func (s *PredictStub) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Calls returns the number of requests received.
func (s *PredictStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// Payloads returns the decoded request bodies in arrival order.
func (s *PredictStub) Payloads() [][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]float64, len(s.payloads))
	copy(out, s.payloads)
	return out
}

func (s *PredictStub) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var payload []float64
	_ = json.Unmarshal(data, &payload)

	s.mu.Lock()
	s.payloads = append(s.payloads, payload)
	gate := s.gate
	status, body := s.status, s.body
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		s.mu.Lock()
		status, body = s.status, s.body
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
