package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

func TestKeyPool(t *testing.T) {
	p := NewKeyPool([]string{" a ", "b", "", "a", "c"})
	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}
	k, gen := p.Current()
	if k != "a" {
		t.Fatalf("current = %q", k)
	}

	next, advanced := p.Rotate(gen)
	if !advanced || next != "b" {
		t.Fatalf("rotate = %q %v", next, advanced)
	}
	// a second caller holding the stale generation does not skip a key
	if again, advanced := p.Rotate(gen); advanced || again != "b" {
		t.Fatalf("stale rotate = %q %v", again, advanced)
	}

	_, gen = p.Current()
	p.Rotate(gen)
	_, gen = p.Current()
	if wrapped, _ := p.Rotate(gen); wrapped != "a" {
		t.Fatalf("expected wrap to a, got %q", wrapped)
	}
}

func TestKeyPool_Empty(t *testing.T) {
	p := NewKeyPool(nil)
	if k, _ := p.Current(); k != "" || p.Len() != 1 {
		t.Fatalf("empty pool = %q/%d", k, p.Len())
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	var _ net.Error = timeoutErr{}
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"sentinel rate limit", fmt.Errorf("x: %w", ErrRateLimited), ClassRateLimited},
		{"openai 429", &openai.APIError{HTTPStatusCode: 429}, ClassRateLimited},
		{"wrapped openai 500", fmt.Errorf("chat completion: %w", &openai.APIError{HTTPStatusCode: 500}), ClassTransient},
		{"openai 401", &openai.APIError{HTTPStatusCode: 401}, ClassPermanent},
		{"openai 400", &openai.APIError{HTTPStatusCode: 400}, ClassPermanent},
		{"request error 502", &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, ClassTransient},
		{"request error 429", &openai.RequestError{HTTPStatusCode: 429, Err: errors.New("slow")}, ClassRateLimited},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), ClassTransient},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"canceled", context.Canceled, ClassPermanent},
		{"text quota", errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)."), ClassRateLimited},
		{"text unauthorized", errors.New("unauthorized: invalid api key"), ClassPermanent},
		{"model not allowed", fmt.Errorf("cfg: %w", ErrModelNotAllowed), ClassPermanent},
		{"unknown", errors.New("something odd"), ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"ok", Config{Provider: "openai", Model: "gpt-4o-mini", AllowedModel: "gpt-4o-mini", APIKeys: []string{"k"}}, nil},
		{"default provider", Config{Model: "m", APIKeys: []string{"k"}}, nil},
		{"disallowed", Config{Provider: "azure", Model: "gpt-4o", AllowedModel: "gpt-4o-mini", APIKeys: []string{"k"}}, ErrModelNotAllowed},
		{"no model", Config{Provider: "openai", APIKeys: []string{"k"}}, ErrModelNotAllowed},
		{"no keys", Config{Provider: "gemini", Model: "gemini-pro", APIKeys: []string{" "}}, ErrNoCredentials},
		{"ollama without keys", Config{Provider: "Ollama", Model: "llama3"}, nil},
		{"unknown", Config{Provider: "bard", Model: "x", APIKeys: []string{"k"}}, ErrUnknownProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewFactory_RejectsDisallowedModel(t *testing.T) {
	_, err := NewFactory(context.Background(), Config{Model: "gpt-4o", AllowedModel: "gpt-4o-mini", APIKeys: []string{"k"}})
	if !errors.Is(err, ErrModelNotAllowed) {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAI_Complete(t *testing.T) {
	var gotAuth string
	var gotReq openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"[\"Acme\",\"3\",\"note\"]"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	f, err := NewFactory(context.Background(), Config{
		Provider: "openai", Model: "gpt-4o-mini", AllowedModel: "gpt-4o-mini",
		APIKeys: []string{"sk-test"}, Endpoint: srv.URL + "/v1/", MaxTokens: 200,
	})
	if err != nil {
		t.Fatal(err)
	}
	c, err := f("sk-test")
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "article"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != `["Acme","3","note"]` {
		t.Fatalf("out = %q", out)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o-mini" || len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" || gotReq.MaxTokens != 200 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestOpenAI_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Config{Model: "gpt-4o-mini", Endpoint: srv.URL + "/v1"}, "k")
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if Classify(err) != ClassRateLimited {
		t.Fatalf("Classify(%v) = %s", err, Classify(err))
	}
}

func TestNewOpenAI_AzureNeedsEndpoint(t *testing.T) {
	if _, err := NewOpenAI(Config{Provider: "azure", Model: "gpt-4o-mini"}, "k"); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := NewOpenAI(Config{Provider: "azure", Model: "gpt-4o-mini", Endpoint: "https://res.openai.azure.com"}, "k"); err != nil {
		t.Fatal(err)
	}
}

type fakeModel struct {
	got  []llms.MessageContent
	opts llms.CallOptions
	resp *llms.ContentResponse
	err  error
}

func (f *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = msgs
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChain_Complete(t *testing.T) {
	m := &fakeModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "[1,2]"}}}}
	c := NewLangChain(m, Config{Temperature: 0.2, MaxTokens: 50})

	out, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "body"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out != "[1,2]" {
		t.Fatalf("out = %q", out)
	}
	if len(m.got) != 2 || m.got[0].Role != llms.ChatMessageTypeSystem || m.got[1].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("messages = %+v", m.got)
	}
	if m.opts.MaxTokens != 50 {
		t.Errorf("max tokens = %d", m.opts.MaxTokens)
	}
}

func TestLangChain_EmptyResponse(t *testing.T) {
	c := NewLangChain(&fakeModel{resp: &llms.ContentResponse{}}, Config{})
	if _, err := c.Complete(context.Background(), nil); !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("err = %v", err)
	}
}
