package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewOutbound_Timeout(t *testing.T) {
	if c := NewOutbound(0); c.Timeout != defaultTimeout {
		t.Fatalf("Timeout=%v want %v", c.Timeout, defaultTimeout)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewOutbound(50 * time.Millisecond)
	if _, err := c.Get(srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
}
