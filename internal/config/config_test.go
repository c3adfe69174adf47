package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idea-sonar/internal/priorartsearch"
	"github.com/joelkehle/idea-sonar/internal/runstore"
)

// isolate keeps the caller's environment and config files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	for _, env := range legacyEnv {
		t.Setenv(env, "")
	}
	for _, env := range []string{
		"IDEA_SONAR_WEB_API_KEY", "IDEA_SONAR_WEB_ENGINE_ID", "IDEA_SONAR_PATENT_API_KEY",
		"IDEA_SONAR_LLM_API_KEY", "IDEA_SONAR_ANALYSIS_RELEVANCE_THRESHOLD", "IDEA_SONAR_CACHE_BACKEND",
	} {
		t.Setenv(env, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idea-sonar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithLegacyEnv(t *testing.T) {
	isolate(t)
	t.Setenv("KIPRIS_API_KEY", " kipris-key ")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)

	assert.Equal(t, "kipris-key", cfg.Patent.APIKey)
	assert.True(t, cfg.PatentEnabled())
	assert.False(t, cfg.WebEnabled())
	assert.True(t, cfg.VerificationEnabled())
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Minute, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Cache.Backend)
	assert.InDelta(t, priorartsearch.DefaultRelevanceThreshold, cfg.Analysis.RelevanceThreshold, 1e-9)
	assert.Equal(t, priorartsearch.KiprisWordURL, cfg.Patent.WordURL)
	assert.Equal(t, priorartsearch.DefaultHints, cfg.Analysis.Hints)
	assert.Equal(t, runstore.DefaultMaxRuns, cfg.Runs.Max)
}

func TestLoadFileAndPrefixedEnv(t *testing.T) {
	isolate(t)
	path := writeFile(t, `
cache:
  backend: badger
  path: /tmp/idea-sonar-badger
web:
  api_key: file-key
  engine_id: cx-1
analysis:
  relevance_threshold: 0.6
  max_verifications: 3
  prompt_version: v2
policy:
  file: policy.yaml
`)
	t.Setenv("IDEA_SONAR_WEB_API_KEY", "env-key")
	t.Setenv("GOOGLE_SEARCH_API_KEY", "legacy-key")
	t.Setenv("IDEA_SONAR_CACHE_BACKEND", "none")

	cfg, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Web.APIKey)
	assert.Equal(t, "cx-1", cfg.Web.EngineID)
	assert.True(t, cfg.WebEnabled())
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, "policy.yaml", cfg.Policy.File)

	vc := cfg.VerifyConfig()
	assert.Equal(t, 3, vc.MaxTargets)
	assert.Equal(t, "v2", vc.PromptVersion)
	assert.InDelta(t, 0.6, cfg.Analysis.RelevanceThreshold, 1e-9)
}

func TestLoadLegacyEnvWhenPrefixedUnset(t *testing.T) {
	isolate(t)
	t.Setenv("GOOGLE_SEARCH_API_KEY", "legacy-key")
	t.Setenv("SEARCH_ENGINE_ID", "legacy-cx")

	cfg, err := Load(NewViper(""))
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.Web.APIKey)
	assert.Equal(t, "legacy-cx", cfg.Web.EngineID)
}

func TestLoadErrors(t *testing.T) {
	t.Run("no sources", func(t *testing.T) {
		isolate(t)
		_, err := Load(NewViper(""))
		assert.ErrorContains(t, err, "at least one source")
	})
	t.Run("malformed file", func(t *testing.T) {
		isolate(t)
		_, err := Load(NewViper(writeFile(t, "web: [")))
		assert.ErrorContains(t, err, "reading config")
	})
	t.Run("explicit file missing", func(t *testing.T) {
		isolate(t)
		_, err := Load(NewViper(filepath.Join(t.TempDir(), "missing.yaml")))
		assert.Error(t, err)
	})
	t.Run("bad threshold", func(t *testing.T) {
		isolate(t)
		t.Setenv("KIPRIS_API_KEY", "k")
		t.Setenv("IDEA_SONAR_ANALYSIS_RELEVANCE_THRESHOLD", "1.5")
		_, err := Load(NewViper(""))
		assert.ErrorContains(t, err, "relevance_threshold")
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Patent.APIKey = "k"
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Cache.Backend = "redis"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Analysis.VerificationThreshold = -0.1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Server.RequestTimeout = 0
	assert.ErrorContains(t, bad.Validate(), "request_timeout")

	bad = cfg
	bad.Runs.Max = -1
	assert.ErrorContains(t, bad.Validate(), "runs.max")

	bad = cfg
	bad.Web.APIKey = "only-key"
	bad.Patent.APIKey = ""
	assert.Error(t, bad.Validate(), "web needs both key and engine id")
}
