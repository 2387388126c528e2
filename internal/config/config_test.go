package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/valpere/llmjudger/internal"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	require.Equal(t, BackendOllama, cfg.Backend)
	require.Equal(t, "http://localhost:11434", cfg.OllamaURL)
	require.Equal(t, 4, cfg.MaxConcurrent)
	require.Equal(t, 60*time.Second, cfg.Timeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 2*time.Second, cfg.RetryBase)
	require.Equal(t, 0.1, cfg.Temperature)
	require.Equal(t, 512, cfg.MaxTokens)

	p := cfg.Policy()
	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, 2*time.Second, p.BaseDelay)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("OLLAMA_MAX_CONCURRENT_REQUESTS", "8")
	t.Setenv("OLLAMA_TIMEOUT", "1.5")
	t.Setenv("MAX_RETRIES", "0")
	t.Setenv("DEBUG_MODE", "true")
	t.Setenv("LLMJUDGER_BACKEND", "OpenAI")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	require.Equal(t, "http://gpu-box:11434", cfg.OllamaURL)
	require.Equal(t, 8, cfg.MaxConcurrent)
	require.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	require.Equal(t, 0, cfg.MaxRetries)
	require.True(t, cfg.Debug)
	require.Equal(t, BackendOpenAI, cfg.Backend)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"OLLAMA_MAX_CONCURRENT_REQUESTS": "0",
		"OLLAMA_TIMEOUT":                 "0",
		"MAX_RETRIES":                    "-1",
		"RETRY_DELAY_BASE":               "0",
		"LLMJUDGER_BACKEND":              "bedrock",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load(NewViper())
			require.Error(t, err)
		})
	}
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yaml := `ollama_timeout: 30
max_retries: 5
models:
  - name: llama3.1:8b
    instances: 2
  - name: qwen3:14b
    instances: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llmjudger.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MAX_RETRIES=7\nDEFAULT_MAX_TOKENS=256\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadFiles(v, ""))
	cfg, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 7, cfg.MaxRetries)
	require.Equal(t, 256, cfg.MaxTokens)
	want := []internal.ModelConfig{{Name: "llama3.1:8b", Instances: 2}, {Name: "qwen3:14b", Instances: 1}}
	if diff := cmp.Diff(want, cfg.Models); diff != "" {
		t.Errorf("models mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFiles_ExplicitMissing(t *testing.T) {
	require.Error(t, ReadFiles(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestParseModelSpecs(t *testing.T) {
	got, err := ParseModelSpecs([]string{"llama3.1:8b=2", " mistral:7b ", ""})
	require.NoError(t, err)
	want := []internal.ModelConfig{{Name: "llama3.1:8b", Instances: 2}, {Name: "mistral:7b", Instances: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseModelSpecs mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range [][]string{{"llama=x"}, {"llama=0"}, {"=2"}, {}} {
		_, err := ParseModelSpecs(bad)
		require.Error(t, err, "specs %v", bad)
	}
}
