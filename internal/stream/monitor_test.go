package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMonitorRejectsBadRequests(t *testing.T) {
	m := NewMonitor(NewBroadcaster(), nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"preflight", http.MethodOptions, "", http.StatusOK},
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"not json", http.MethodPost, "v=0", http.StatusBadRequest},
		{"empty offer", http.MethodPost, `{"type":"offer","sdp":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/offer", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			m.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if m.PeerCount() != 0 {
		t.Errorf("PeerCount = %d after rejected offers, want 0", m.PeerCount())
	}
}
