package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// StatusServer answers every request with a fixed status code and counts
// the requests it has seen.
type StatusServer struct {
	*httptest.Server
	hits atomic.Int64
}

// Hits returns the number of requests served.
func (s *StatusServer) Hits() int64 {
	return s.hits.Load()
}

// StartStatusServer starts a StatusServer closed on test cleanup.
func StartStatusServer(t *testing.T, code int) *StatusServer {
	t.Helper()

	s := &StatusServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		w.WriteHeader(code)
	}))
	t.Cleanup(s.Close)
	return s
}
