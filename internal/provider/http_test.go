package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scenepipe/internal/media"
)

func testRequest() media.Request {
	return media.Request{
		JobID:   "job-1",
		SceneID: "s1",
		Stage:   media.StageImages,
		Model:   "dall-e-3",
		Prompt:  "a castle",
		Params:  media.ImageParams{Size: "1024x1024", Style: "vivid"},
	}
}

func TestHTTPGenerator_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["prompt"] != "a castle" || body["stage"] != "images" {
			t.Errorf("unexpected body %v", body)
		}
		params, _ := body["params"].(map[string]any)
		if params["size"] != "1024x1024" {
			t.Errorf("expected params to be forwarded, got %v", body["params"])
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{"url": "https://cdn/1.png", "content_type": "image/png", "cost": 0.08})
	}))
	defer server.Close()

	g := NewHTTPGenerator(server.URL, "secret", time.Second)
	res, err := g.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.URL != "https://cdn/1.png" || res.Cost != 0.08 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestHTTPGenerator_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind Kind
	}{
		{"Too Many Requests", http.StatusTooManyRequests, `{"error":"slow down"}`, KindRateLimited},
		{"Gateway Timeout", http.StatusGatewayTimeout, ``, KindTimeout},
		{"Bad Request", http.StatusBadRequest, `{"error":"prompt too long"}`, KindInvalidInput},
		{"Policy Code", http.StatusBadRequest, `{"error":"unsafe","code":"content_policy"}`, KindContentPolicy},
		{"Server Error", http.StatusInternalServerError, `oops`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewHTTPGenerator(server.URL, "", time.Second)
			_, err := g.Generate(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err).Kind; got != tt.wantKind {
				t.Errorf("kind = %s, want %s (err: %v)", got, tt.wantKind, err)
			}
			if !strings.Contains(err.Error(), "status") {
				t.Errorf("expected status in message, got %v", err)
			}
		})
	}
}

func TestHTTPGenerator_MissingURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	_, err := NewHTTPGenerator(server.URL, "", time.Second).Generate(context.Background(), testRequest())
	if err == nil || Classify(err).Kind != KindUnknown {
		t.Fatalf("expected unknown error for empty url, got %v", err)
	}
}

func TestHTTPGenerator_ClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewHTTPGenerator(server.URL, "", 20*time.Millisecond).Generate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Errorf("client timeout should be transient, got %v", err)
	}
}
