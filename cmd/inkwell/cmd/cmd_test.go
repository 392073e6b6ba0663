package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := NewRootCmd()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["init"])
	assert.True(t, names["doctor"])
	assert.True(t, names["version"])
}

func TestDoctorReportsStatus(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfgYAML := "storage:\n" +
		"  db_path: " + filepath.Join(dir, "data", "inkwell.db") + "\n" +
		"  vector_dir: " + filepath.Join(dir, "data", "vectors") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(cfgYAML), 0o644))

	out, err := execute(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "Inkwell System Check")
	assert.Contains(t, out, "[PASS] data_dir_writable")
	assert.Contains(t, out, "[WARN] llm_provider")
}

func TestVersionShort(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", out)
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestVersionDefault(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "inkwell")
	assert.Contains(t, out, version.Version)
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	path := filepath.Join(dir, config.ConfigFileName)
	require.FileExists(t, path)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestInitPreservesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestInitForceBacksUp(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644))

	out, err := execute(t, "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up")
	assert.Contains(t, out, "Created")

	backups, err := config.ListConfigBackups(path)
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port, "defaults replace the old config")
}
