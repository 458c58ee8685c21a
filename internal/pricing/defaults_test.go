package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

func TestLoadDefaults_BuiltInTable(t *testing.T) {
	defaults, err := LoadDefaults()
	require.NoError(t, err)
	assert.Equal(t, 14, defaults.Len())

	tests := []struct {
		vendor, model string
		metric        models.MetricType
		want          string
	}{
		{"OpenAI", "gpt-4", models.MetricInputTokens, "0.00003"},
		{"OpenAI", "gpt-4", models.MetricOutputTokens, "0.00006"},
		{"OpenAI", "gpt-3.5-turbo", models.MetricInputTokens, "0.0000015"},
		{"OpenAI", "gpt-3.5-turbo", models.MetricOutputTokens, "0.000002"},
		{"Anthropic", "claude-3-opus", models.MetricInputTokens, "0.000015"},
		{"Anthropic", "claude-3-opus", models.MetricOutputTokens, "0.000075"},
		{"Anthropic", "claude-3-sonnet", models.MetricInputTokens, "0.000003"},
		{"Anthropic", "claude-3-sonnet", models.MetricOutputTokens, "0.000015"},
		{"Google", "gemini-pro", models.MetricInputTokens, "0.0000005"},
		{"Google", "gemini-pro", models.MetricOutputTokens, "0.0000015"},
		{"OpenAI", "dall-e-3", models.MetricImageCount, "0.04"},
		{"OpenAI", "dall-e-2", models.MetricImageCount, "0.02"},
		{"OpenAI", "sora", models.MetricVideoCount, "0.05"},
		{"OpenAI", "whisper-1", models.MetricAudioMinutes, "0.006"},
	}
	for _, tt := range tests {
		t.Run(tt.vendor+"/"+tt.model+"/"+string(tt.metric), func(t *testing.T) {
			got, ok := defaults.Lookup(tt.vendor, tt.model, tt.metric)
			require.True(t, ok)
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestDefaults_LookupMisses(t *testing.T) {
	defaults, err := LoadDefaults()
	require.NoError(t, err)

	_, ok := defaults.Lookup("openai", "gpt-4", models.MetricInputTokens)
	assert.False(t, ok, "vendor match is case-sensitive")
	_, ok = defaults.Lookup("OpenAI", "dall-e-3", models.MetricInputTokens)
	assert.False(t, ok)

	var nilDefaults *Defaults
	_, ok = nilDefaults.Lookup("OpenAI", "gpt-4", models.MetricInputTokens)
	assert.False(t, ok)
	assert.Empty(t, nilDefaults.Entries())
}

func TestParseDefaults_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad toml":      `[[price]`,
		"unknown metric": `
[[price]]
vendor = "A"
model = "m"
metric = "tokens"
price = "1"`,
		"duplicate": `
[[price]]
vendor = "A"
model = "m"
metric = "input_tokens"
price = "1"
[[price]]
vendor = "A"
model = "m"
metric = "input_tokens"
price = "2"`,
		"negative": `
[[price]]
vendor = "A"
model = "m"
metric = "input_tokens"
price = "-1"`,
		"bad price": `
[[price]]
vendor = "A"
model = "m"
metric = "input_tokens"
price = "cheap"`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefaults([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefaultsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[price]]
vendor = "Mistral"
model = "large"
metric = "output_tokens"
price = "0.000006"
`), 0o600))

	defaults, err := LoadDefaultsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Len())
	got, ok := defaults.Lookup("Mistral", "large", models.MetricOutputTokens)
	require.True(t, ok)
	assert.True(t, d("0.000006").Equal(got))

	builtin, err := LoadDefaultsFile("")
	require.NoError(t, err)
	assert.Equal(t, 14, builtin.Len())

	_, err = LoadDefaultsFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestDefaults_Entries(t *testing.T) {
	defaults, err := LoadDefaults()
	require.NoError(t, err)

	entries := defaults.Entries()
	require.Len(t, entries, 14)
	assert.Equal(t, "Anthropic", entries[0].Vendor)
	for _, e := range entries {
		assert.True(t, e.Active)
		assert.Equal(t, APITypeFor(e.MetricType), e.APIType)
	}
}
