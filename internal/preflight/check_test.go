package preflight

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.Storage.DBPath = filepath.Join(dir, "data", "inkwell.db")
	cfg.Storage.VectorDir = filepath.Join(dir, "data", "vectors")
	return cfg
}

func TestRunAllChecksPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embeddings.Provider = "local_bge_m3"
	cfg.Embeddings.BaseURL = "http://localhost:9876/v1"
	cfg.Rerank.Provider = "local_bge"
	cfg.Rerank.BaseURL = "http://localhost:9877"
	cfg.LLM.Mock = false
	cfg.LLM.Provider = "openai_compatible"
	cfg.LLM.APIKey = "sk-test"

	c := New()
	results := c.Run(context.Background(), cfg)
	require.Len(t, results, 6)

	for _, r := range results {
		assert.Equal(t, StatusPass, r.Status, r.Name)
	}
	assert.False(t, c.HasCriticalFailures(results))
	assert.Equal(t, "ready", c.SummaryStatus(results))
}

func TestRunWarnsOnMockProviders(t *testing.T) {
	cfg := testConfig(t)

	c := New()
	results := c.Run(context.Background(), cfg)

	byName := map[string]CheckResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.Equal(t, StatusWarn, byName["embeddings_provider"].Status)
	assert.Equal(t, StatusWarn, byName["rerank_provider"].Status)
	assert.Equal(t, StatusWarn, byName["llm_provider"].Status)

	assert.False(t, c.HasCriticalFailures(results))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus(results))
}

func TestCheckWritePermissionsCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "vectors")

	r := New().CheckWritePermissions("vector_dir", dir)
	assert.Equal(t, StatusPass, r.Status)
	assert.Equal(t, "vector_dir_writable", r.Name)
	require.DirExists(t, dir)
}

func TestCheckWritePermissionsFailure(t *testing.T) {
	r := New().CheckWritePermissions("data_dir", "/proc/inkwell-denied")
	assert.Equal(t, StatusFail, r.Status)
	assert.True(t, r.IsCritical())
}

func TestCheckDiskSpace(t *testing.T) {
	r := New().CheckDiskSpace(t.TempDir())
	assert.Equal(t, StatusPass, r.Status)
	assert.Contains(t, r.Message, "free")
}

func TestCheckLLMProviderMissingKey(t *testing.T) {
	cfg := config.NewConfig()
	cfg.LLM.Mock = false
	cfg.LLM.Provider = "openai_compatible"
	cfg.LLM.APIKey = ""

	r := New().CheckLLMProvider(cfg)
	assert.Equal(t, StatusWarn, r.Status)
	assert.Contains(t, r.Message, "api_key")
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithOutput(&buf), WithVerbose(true))

	c.PrintResults([]CheckResult{
		{Name: "data_dir_writable", Status: StatusPass, Message: "/tmp/data", Required: true},
		{Name: "llm_provider", Status: StatusWarn, Message: "mock completion client configured", Details: "set llm.api_key"},
	})

	out := buf.String()
	assert.Contains(t, out, "Inkwell System Check")
	assert.Contains(t, out, "[PASS] data_dir_writable")
	assert.Contains(t, out, "[WARN] llm_provider")
	assert.Contains(t, out, "set llm.api_key")
	assert.Contains(t, out, "Status: READY_WITH_WARNINGS")
	assert.Contains(t, out, "1 warning(s):")
}

func TestSummaryStatusFailed(t *testing.T) {
	c := New()
	status := c.SummaryStatus([]CheckResult{
		{Name: "disk_space", Status: StatusFail, Required: true, Message: "out of space"},
	})
	assert.Equal(t, "failed", status)
	assert.True(t, c.HasCriticalFailures([]CheckResult{
		{Status: StatusFail, Required: true},
	}))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 bytes", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "2.5 MB", formatBytes(uint64(2.5*1024*1024)))
	assert.Equal(t, "3.0 GB", formatBytes(3*1024*1024*1024))
}
