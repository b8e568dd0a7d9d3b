package spec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDefaultDescribesBackend(t *testing.T) {
	s := Default()

	assert.Equal(t, "python:3.8", s.BaseImage)
	assert.Equal(t, "pyproject.toml", s.Manifest)
	assert.Equal(t, "/app", s.AppTarget)
	assert.Equal(t, 8000, s.Port)
	assert.Equal(t, "8000/tcp", s.ExposedPort())
}

func TestEntrypointCommand(t *testing.T) {
	want := []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", "8000"}
	assert.Equal(t, want, Default().EntrypointCommand())
}

func TestLabelsKeepEmptyArgs(t *testing.T) {
	labels := Default().Labels(Args{})

	assert.Equal(t, map[string]string{
		"maintainer":  "FastSurvey <support@fastsurvey.de>",
		"source":      "https://github.com/fastsurvey/backend",
		"commit_sha":  "",
		"branch_name": "",
	}, labels)
}

func TestEnvVars(t *testing.T) {
	env := Default().EnvVars(Args{CommitSHA: "0b7e3a1", BranchName: "main"})

	assert.Equal(t, map[string]string{
		"COMMIT_SHA":  "0b7e3a1",
		"BRANCH_NAME": "main",
	}, env)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), DescriptorFile)
	require.NoError(t, os.WriteFile(path, []byte("base_image: python:3.11\nport: 9000\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "python:3.11", s.BaseImage)
	assert.Equal(t, 9000, s.Port)
	// untouched keys keep their defaults
	assert.Equal(t, "pyproject.toml", s.Manifest)
	assert.Equal(t, "app.main:app", s.AppModule)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"module without attribute", "app_module: appmain\n"},
		{"port out of range", "port: 70000\n"},
		{"relative app target", "app_target: app\n"},
		{"unparseable base image", "base_image: 'python::'\n"},
		{"source not a url", "source: not-a-url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), DescriptorFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), DescriptorFile))
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	t.Run("without descriptor file", func(t *testing.T) {
		s, err := FromContext(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default(), s)
	})

	t.Run("with descriptor file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte("port: 8800\n"), 0o644))

		s, err := FromContext(dir)
		require.NoError(t, err)
		assert.Equal(t, 8800, s.Port)
	})

	t.Run("with broken descriptor file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte("port: many\n"), 0o644))

		_, err := FromContext(dir)
		assert.Error(t, err)
	})
}
