package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRobotsChecker_CanFetch(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\nCrawl-delay: 2\n")
	}))
	defer server.Close()

	checker := NewRobotsChecker("authrules", server.Client())

	allowed, delay, err := checker.CanFetch(context.Background(), server.URL+"/policies/pa.md")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !allowed {
		t.Error("Expected /policies/ to be allowed")
	}
	if delay != 2*time.Second {
		t.Errorf("Expected 2s crawl delay, got %v", delay)
	}

	allowed, _, _ = checker.CanFetch(context.Background(), server.URL+"/private/pa.md")
	if allowed {
		t.Error("Expected /private/ to be disallowed")
	}

	if requests.Load() != 1 {
		t.Errorf("Expected robots.txt to be fetched once, got %d", requests.Load())
	}
}

func TestRobotsChecker_StatusPolicy(t *testing.T) {
	tests := []struct {
		status  int
		allowed bool
	}{
		{http.StatusNotFound, true},
		{http.StatusForbidden, true},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			allowed, _, err := NewRobotsChecker("authrules", server.Client()).CanFetch(context.Background(), server.URL+"/pa.md")
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if allowed != tt.allowed {
				t.Errorf("status %d: allowed = %v, want %v", tt.status, allowed, tt.allowed)
			}
		})
	}
}

func TestRobotsChecker_UnreachableAllows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	allowed, _, err := NewRobotsChecker("authrules", nil).CanFetch(context.Background(), url+"/pa.md")
	if err != nil || !allowed {
		t.Errorf("Expected unreachable robots.txt to allow, got %v, %v", allowed, err)
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	tests := map[string]string{
		"authrules/0.1 (+https://github.com/ppiankov/authrules)": "authrules",
		"test-agent/1.0": "test-agent",
		"plain":          "plain",
		"":               "",
	}
	for in, want := range tests {
		if got := NormalizeUserAgent(in); got != want {
			t.Errorf("NormalizeUserAgent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "", "internal.example.com")

	req := httptest.NewRequest(http.MethodGet, "https://payer.example.org/policy.md", nil)
	got, err := proxy(req)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got == nil || got.Host != "proxy.local:3128" {
		t.Errorf("Expected HTTP proxy for https request, got %v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "http://internal.example.com/policy.md", nil)
	got, err = proxy(req)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected no proxy for NO_PROXY host, got %v", got)
	}
}
