package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.Request{
		System:      "You are a translator.",
		Messages:    []llm.Message{{Role: "user", Content: "大家好"}},
		Temperature: 0.3,
		MaxTokens:   200,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("Model = %q, want claude-3-5-haiku-latest", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "大家好" {
		t.Errorf("user content = %q, want 大家好", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("MaxTokens = %v, want 200", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.Request{Messages: []llm.Message{{Role: "user", Content: "hi"}}})
	if len(params.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1 without a system prompt", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero Temperature/MaxTokens must leave the provider defaults")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		opts     []anyllmlib.Option
		wantErr  bool
	}{
		{name: "empty provider", provider: "", model: "gpt-4o", wantErr: true},
		{name: "empty model", provider: "openai", model: "", wantErr: true},
		{name: "unsupported", provider: "fakecloud", model: "m", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("k")}, wantErr: true},
		{name: "openai", provider: "openai", model: "gpt-4o-mini", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{name: "anthropic mixed case", provider: "Anthropic", model: "claude-3-5-haiku-latest", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant")}},
		{name: "ollama without key", provider: "ollama", model: "qwen2.5"},
		{name: "llamacpp", provider: "llamacpp", model: "qwen2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.provider, tt.model, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
