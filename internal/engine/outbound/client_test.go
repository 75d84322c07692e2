package outbound

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// scriptedTransport returns canned responses per URL and records what was
// requested, so redirect chains can be exercised without real sockets.
type scriptedTransport struct {
	responses map[string]*http.Response
	requests  []string
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req.URL.String())
	resp, found := s.responses[req.URL.String()]
	if !found {
		return nil, errors.New("unexpected request: " + req.URL.String())
	}
	return resp, nil
}

func cannedResponse(status int, body string, headers map[string]string) *http.Response {
	h := http.Header{}
	for name, value := range headers {
		h.Set(name, value)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func publicGuard() *Guard {
	guard := NewGuard(false)
	guard.LookupIP = func(host string) ([]net.IP, error) {
		if host == "internal.example.com" {
			return []net.IP{net.ParseIP("10.0.0.5")}, nil
		}
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	return guard
}

func TestClient_PostSuccess(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]*http.Response{
		"https://hooks.example.com/in": cannedResponse(200, `{"ok":true}`, nil),
	}}
	client := NewClient(publicGuard(), 10*time.Second, 0, 4096).WithTransport(transport)

	resp, err := client.Post(context.Background(), "https://hooks.example.com/in", []byte("{}"), map[string]string{
		"content-type": "application/json",
	})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if !resp.Success() {
		t.Errorf("Expected success, got status %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Unexpected body: %s", resp.Body)
	}
}

func TestClient_RedirectBeyondCapFailsClosed(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]*http.Response{
		"https://hooks.example.com/in": cannedResponse(302, "", map[string]string{
			"Location": "https://other.example.com/in",
		}),
	}}
	client := NewClient(publicGuard(), 10*time.Second, 0, 4096).WithTransport(transport)

	_, err := client.Post(context.Background(), "https://hooks.example.com/in", []byte("{}"), nil)
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Errorf("Expected too_many_redirects with zero cap, got %v", err)
	}
}

func TestClient_FollowsRedirectWithinCap(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]*http.Response{
		"https://hooks.example.com/in": cannedResponse(302, "", map[string]string{
			"Location": "/moved",
		}),
		"https://hooks.example.com/moved": cannedResponse(200, "ok", nil),
	}}
	client := NewClient(publicGuard(), 10*time.Second, 1, 4096).WithTransport(transport)

	resp, err := client.Post(context.Background(), "https://hooks.example.com/in", []byte("{}"), nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if resp.StatusCode != 200 || resp.FinalURL != "https://hooks.example.com/moved" {
		t.Errorf("Expected redirect to be followed, got %d at %s", resp.StatusCode, resp.FinalURL)
	}
	if len(transport.requests) != 2 {
		t.Errorf("Expected 2 hops, got %d", len(transport.requests))
	}
}

func TestClient_RedirectToUnsafeHostBlocked(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]*http.Response{
		"https://hooks.example.com/in": cannedResponse(302, "", map[string]string{
			"Location": "https://internal.example.com/steal",
		}),
	}}
	client := NewClient(publicGuard(), 10*time.Second, 3, 4096).WithTransport(transport)

	_, err := client.Post(context.Background(), "https://hooks.example.com/in", []byte("{}"), nil)
	if !errors.Is(err, ErrSsrfBlocked) {
		t.Errorf("Expected ssrf_blocked on redirect to private host, got %v", err)
	}
	if len(transport.requests) != 1 {
		t.Errorf("Expected the unsafe hop to never be sent, got %d requests", len(transport.requests))
	}
}

func TestClient_TruncatesResponseBody(t *testing.T) {
	transport := &scriptedTransport{responses: map[string]*http.Response{
		"https://hooks.example.com/in": cannedResponse(500, strings.Repeat("x", 10000), nil),
	}}
	client := NewClient(publicGuard(), 10*time.Second, 0, 64).WithTransport(transport)

	resp, err := client.Post(context.Background(), "https://hooks.example.com/in", []byte("{}"), nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if len(resp.Body) != 64 {
		t.Errorf("Expected body capped at 64 bytes, got %d", len(resp.Body))
	}
}
