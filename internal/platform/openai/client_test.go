package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, baseURL string) Client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := NewClient(log, Options{
		ChatBaseURL:  baseURL,
		ChatAPIKey:   "test-key",
		ChatModel:    "test-model",
		EmbedBaseURL: baseURL,
		EmbedAPIKey:  "test-key",
		EmbedModel:   "test-embed",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
	})
	return string(b)
}

func TestChatRetriesOnServerError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatBody("回答")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.Chat(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "回答" {
		t.Fatalf("Chat = %q", got)
	}
	if atomic.LoadInt64(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestChatNoRetryOnClientError(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Chat(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (4xx must not retry)", calls)
	}
}

func TestChatRateLimitedClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), "s", "u")
	if !errors.Is(err, perrors.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestChatJSONEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody("")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.ChatJSON(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ChatJSON = %v, want empty object", got)
	}
}

func TestChatJSONMalformedContent(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(chatBody("これはJSONではない")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.ChatJSON(context.Background(), "s", "u")
	if !errors.Is(err, perrors.ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
	if atomic.LoadInt64(&calls) != 1 {
		t.Fatalf("calls = %d, want 1 (invalid payloads must not retry)", calls)
	}
}

func TestChatTruncatesLongInput(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotUser = req.Messages[1].Content
		w.Write([]byte(chatBody("ok")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	long := strings.Repeat("あ", MaxInputTokens*4+500)
	if _, err := c.Chat(context.Background(), "s", long); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got := len([]rune(gotUser)); got != MaxInputTokens*4 {
		t.Fatalf("user message = %d runes, want %d", got, MaxInputTokens*4)
	}
}

func TestEmbedTruncatesAndConverts(t *testing.T) {
	var gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInput = req.Input
		b, _ := json.Marshal(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{0.5, 0.25}},
			},
		})
		w.Write(b)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vec, err := c.Embed(context.Background(), strings.Repeat("x", MaxEmbedChars+100))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len([]rune(gotInput)) != MaxEmbedChars {
		t.Fatalf("input = %d chars, want %d", len([]rune(gotInput)), MaxEmbedChars)
	}
	if len(vec) != 2 || vec[0] != 0.5 || vec[1] != 0.25 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		val := float64(len(req.Input))
		b, _ := json.Marshal(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{val}},
			},
		})
		w.Write(b)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[0][0] != 1 || vecs[1][0] != 2 || vecs[2][0] != 3 {
		t.Fatalf("vecs = %v", vecs)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{in: "", want: 0},
		{in: "    ", want: 0},
		{in: "abcd", want: 1},
		{in: "abcde", want: 2},
		{in: strings.Repeat("x", 16000), want: 4000},
	}
	for _, tc := range cases {
		if got := estimateTokens(tc.in); got != tc.want {
			t.Fatalf("estimateTokens(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}
