package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/testutil"
)

type fakeStatus struct {
	connected bool
	loggedIn  bool
	qr        string
}

func (f *fakeStatus) IsConnected() bool { return f.connected }
func (f *fakeStatus) IsLoggedIn() bool  { return f.loggedIn }
func (f *fakeStatus) LatestQR() string  { return f.qr }

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRootHandler(t *testing.T) {
	s := NewServer(&fakeStatus{})
	rr := serve(t, s, "/")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "root")
	if rr.Body.String() != "online" {
		t.Errorf("body = %q, want online", rr.Body.String())
	}

	rr = serve(t, s, "/nope")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown path")
}

func TestHealthHandler(t *testing.T) {
	src := &fakeStatus{connected: true, loggedIn: true}
	s := NewServer(src)

	rr := serve(t, s, "/healthz")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "connected")
	resp := testutil.AssertJSONResponse(t, rr, "ok")
	if resp["connected"] != true || resp["logged_in"] != true || resp["pairing"] != false {
		t.Errorf("health = %v", resp)
	}

	src.connected = false
	rr = serve(t, s, "/healthz")
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "disconnected")
	testutil.AssertJSONResponse(t, rr, "unavailable")
}

func TestQRRoutes(t *testing.T) {
	src := &fakeStatus{qr: "2@abcdefghijklmnop,QWERTY,ZXCVBN,1234"}
	s := NewServer(src, WithToken("s3cret"))

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"page without token", "/qr", http.StatusUnauthorized},
		{"page wrong token", "/qr?token=nope", http.StatusUnauthorized},
		{"page", "/qr?token=s3cret", http.StatusOK},
		{"png without token", "/qr.png", http.StatusUnauthorized},
		{"png", "/qr.png?token=s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(t, s, tt.target)
			testutil.AssertHTTPStatus(t, tt.code, rr.Code, tt.target)
		})
	}

	rr := serve(t, s, "/qr?token=s3cret")
	if !strings.Contains(rr.Body.String(), `/qr.png?token=s3cret`) {
		t.Errorf("page should reference the guarded image, got %s", rr.Body.String())
	}

	rr = serve(t, s, "/qr.png?token=s3cret")
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG data")
	}
}

func TestQRRoutesAfterPairing(t *testing.T) {
	s := NewServer(&fakeStatus{connected: true, loggedIn: true})
	for _, target := range []string{"/qr", "/qr.png"} {
		rr := serve(t, s, target)
		testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, target)
		testutil.AssertJSONResponse(t, rr, "error")
	}
}

func TestRunDisabled(t *testing.T) {
	s := NewServer(&fakeStatus{}, WithAddr(""))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run with no address returned %v", err)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := NewServer(&fakeStatus{}, WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
