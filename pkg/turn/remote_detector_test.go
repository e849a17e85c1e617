package turn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

func TestRemoteDetector(t *testing.T) {
	chat := ChatContext{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, Content: "Hello! How can I help you today?"},
			{Role: llm.RoleUser, Content: "What's a heat pump?"},
		},
		Language: "en",
	}

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		fallback *stubDetector
		want     float64
		wantErr  bool
	}{
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req RemoteRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) != 2 || req.Language != "en" {
					http.Error(w, "bad request", http.StatusBadRequest)
					return
				}
				json.NewEncoder(w).Encode(RemoteResponse{Probability: 0.92})
			},
			want: 0.92,
		},
		{
			name: "server error uses fallback",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
			fallback: &stubDetector{probability: 0.4, supported: true},
			want:     0.4,
		},
		{
			name: "application error uses fallback",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(RemoteResponse{Error: "model not loaded"})
			},
			fallback: &stubDetector{probability: 0.3, supported: true},
			want:     0.3,
		},
		{
			name: "out of range without fallback",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(RemoteResponse{Probability: 1.7})
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			var fallback Detector
			if tt.fallback != nil {
				fallback = tt.fallback
			}
			detector := NewRemoteDetector(server.URL, fallback)

			p, err := detector.PredictEndOfTurn(context.Background(), chat)
			if tt.wantErr {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			is.Equal(p, tt.want)
		})
	}
}

func TestRemoteDetectorThresholds(t *testing.T) {
	is := is.New(t)

	d := NewRemoteDetector("http://unused", nil)
	th, err := d.UnlikelyThreshold("en")
	is.NoErr(err)
	is.Equal(th, 0.85)
	is.True(d.SupportsLanguage("fr"))

	d = NewRemoteDetector("http://unused", &stubDetector{threshold: 0.6, supported: true})
	th, err = d.UnlikelyThreshold("fr")
	is.NoErr(err)
	is.Equal(th, 0.6)
}
