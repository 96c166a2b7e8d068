package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/babelcast/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "server.log_level",
		},
		{
			name: "target equals source",
			yaml: "pipeline:\n  source_language: zh\n  target_languages: [en, zh]\n",
			want: "equals the source language",
		},
		{
			name: "duplicate target",
			yaml: "pipeline:\n  target_languages: [en, ko, en]\n",
			want: "duplicate",
		},
		{
			name: "negative queue",
			yaml: "pipeline:\n  utterance_queue: -1\n",
			want: "pipeline.utterance_queue",
		},
		{
			name: "max shorter than min",
			yaml: "segmenter:\n  min_len: 5s\n  max_len: 2s\n",
			want: "segmenter.max_len",
		},
		{
			name: "threshold out of range",
			yaml: "segmenter:\n  silence_threshold: 1.5\n",
			want: "silence_threshold",
		},
		{
			name: "translator without name",
			yaml: "translation:\n  providers:\n    - api_key: x\n",
			want: "translation.providers[0].name",
		},
		{
			name: "negative rate limit",
			yaml: "translation:\n  providers:\n    - name: deepl\n      rate_limit_rps: -2\n",
			want: "rate_limit_rps",
		},
		{
			name: "synthesizer without name",
			yaml: "synthesis:\n  providers:\n    - base_url: http://x\n",
			want: "synthesis.providers[0].name",
		},
		{
			name: "unknown repository",
			yaml: "voices:\n  repository: sqlite\n",
			want: "voices.repository",
		},
		{
			name: "postgres without dsn",
			yaml: "voices:\n  repository: postgres\n",
			want: "postgres_dsn",
		},
		{
			name: "wsroom without url",
			yaml: "publish:\n  name: wsroom\n",
			want: "publish.url",
		},
		{
			name: "key without secret",
			yaml: "auth:\n  api_key: k\n",
			want: "must be set together",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
voices:
  repository: postgres
auth:
  api_secret: s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"log_level", "postgres_dsn", "auth.api_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
recognizer:
  name: my-custom-asr
translation:
  providers:
    - name: papago
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names must not fail validation: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"audio", "recognizer", "translator", "tts", "clone", "publish"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
