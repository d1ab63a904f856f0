package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/prism/pkg/adapter"
	"github.com/m-mizutani/prism/pkg/model"
)

type recordedRequest struct {
	path string
	body map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	data, _ := io.ReadAll(req.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{path: req.URL.Path, body: body})
	r.mu.Unlock()

	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *recorder) snapshot() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestWebhookNotifier(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := adapter.NewWebhookNotifier(srv.URL)
	ctx := context.Background()
	n.Post(ctx, adapter.EventPerspectiveUpdate, map[string]any{"color": "red", "count": 2, "batch_size": 2})
	n.Post(ctx, adapter.EventPerspectiveComplete, map[string]any{"total_perspectives": 9, "status": "completed"})
	n.Close()

	reqs := rec.snapshot()
	gt.A(t, reqs).Length(2)
	gt.Equal(t, reqs[0].path, "/api/perspective-update")
	gt.Equal(t, reqs[0].body["color"], any("red"))
	gt.Equal(t, reqs[1].path, "/api/perspective-complete")
}

func TestWebhookNotifierSwallowsFailures(t *testing.T) {
	rec := &recorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := adapter.NewWebhookNotifier(srv.URL, adapter.WithWebhookTimeout(100*time.Millisecond))
	n.Post(context.Background(), adapter.EventPerspectiveUpdate, map[string]any{"color": "red"})
	n.Close()

	// Post after Close is ignored
	n.Post(context.Background(), adapter.EventPerspectiveUpdate, map[string]any{"color": "orange"})
	gt.A(t, rec.snapshot()).Length(1)
}

func TestWebhookNotifierDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	n := adapter.NewWebhookNotifier(srv.URL, adapter.WithWebhookQueueSize(1))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			n.Post(context.Background(), adapter.EventPerspectiveUpdate, map[string]any{"i": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post blocked on a full queue")
	}

	close(block)
	n.Close()
}

func TestDebateUpload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	client := adapter.NewDebate(srv.URL)
	err := client.UploadPerspectives(context.Background(), &adapter.PerspectiveUpload{
		Leftist:  []model.Perspective{{Text: "a", BiasX: 0}},
		Common:   []model.Perspective{{Text: "b", BiasX: 0.5}},
		Rightist: []model.Perspective{{Text: "c", BiasX: 1}},
		Input:    &model.GenerationRequest{Statement: "X", Significance: 0.1},
	})
	gt.NoError(t, err)

	reqs := rec.snapshot()
	gt.A(t, reqs).Length(1)
	gt.Equal(t, reqs[0].path, "/upload-perspectives")
	gt.Map(t, reqs[0].body).HasKey("leftist")
	gt.Map(t, reqs[0].body).HasKey("input")
}

func TestDebateUploadError(t *testing.T) {
	rec := &recorder{status: http.StatusBadGateway}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	err := adapter.NewDebate(srv.URL).UploadPerspectives(context.Background(), &adapter.PerspectiveUpload{})
	gt.Error(t, err)
}

type countingLLM struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *countingLLM) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return "[]", nil
}

func TestThrottledLLM(t *testing.T) {
	inner := &countingLLM{}
	llm := adapter.NewThrottledLLM(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := llm.Generate(context.Background(), "p", 0.6)
			gt.NoError(t, err)
		}()
	}
	wg.Wait()

	gt.True(t, inner.maxSeen.Load() <= 2)
}

func TestThrottledLLMCanceled(t *testing.T) {
	inner := &countingLLM{}
	llm := adapter.NewThrottledLLM(inner, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := llm.Generate(ctx, "p", 0.6)
	gt.Error(t, err)
}

func TestNewLLMUnavailable(t *testing.T) {
	testCases := map[string]adapter.LLMConfig{
		"empty provider":    {},
		"unknown provider":  {Provider: "unknown"},
		"claude no key":     {Provider: "claude"},
		"openai no key":     {Provider: "openai"},
		"gemini no project": {Provider: "gemini"},
	}

	for name, cfg := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := adapter.NewLLM(context.Background(), cfg)
			gt.Error(t, err)
			gt.True(t, errors.Is(err, model.ErrClientUnavailable))
		})
	}
}

func TestNewLLMOllama(t *testing.T) {
	llm, err := adapter.NewLLM(context.Background(), adapter.LLMConfig{Provider: "ollama", Model: "llama3"})
	gt.NoError(t, err)
	gt.V(t, llm).NotNil()
}
