package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCreds(t *testing.T, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

func TestStandardPaths(t *testing.T) {
	paths := StandardPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, "credentials.toml", paths[0])
	if len(paths) > 1 {
		assert.Contains(t, paths[1], filepath.Join(".config", "quotagate"))
	}
}

func TestLoadFile(t *testing.T) {
	creds, err := LoadFile(writeCreds(t, `
[anthropic]
api_key = "sk-ant-test123"

[platform-a]
api_key = "pa-token"
base_url = "https://api.platform-a.example"
`, 0400))
	require.NoError(t, err)

	assert.Equal(t, "sk-ant-test123", creds.GetAPIKey("anthropic"))
	assert.Equal(t, "pa-token", creds.GetAPIKey("platform-a"))
	assert.Equal(t, "https://api.platform-a.example", creds.GetBaseURL("platform-a"))
	assert.Empty(t, creds.GetBaseURL("anthropic"))
}

func TestLoadFile_GenericLLMSection(t *testing.T) {
	t.Setenv("PLATFORM_B_API_KEY", "")
	creds, err := LoadFile(writeCreds(t, "[llm]\napi_key = \"generic-llm-key\"\n", 0400))
	require.NoError(t, err)

	assert.Equal(t, "generic-llm-key", creds.GetAPIKey("anthropic"))
	assert.Equal(t, "generic-llm-key", creds.GetAPIKey("google"))
	// Platforms never borrow the LLM key.
	assert.Empty(t, creds.GetAPIKey("platform-b"))
}

func TestLoadFile_ProviderOverridesLLM(t *testing.T) {
	creds, err := LoadFile(writeCreds(t, `
[llm]
api_key = "generic-key"

[anthropic]
api_key = "anthropic-specific-key"
`, 0400))
	require.NoError(t, err)

	assert.Equal(t, "anthropic-specific-key", creds.GetAPIKey("anthropic"))
	assert.Equal(t, "generic-key", creds.GetAPIKey("openai"))
}

func TestLoadFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission check not applicable on Windows")
	}

	for _, mode := range []os.FileMode{0644, 0600} {
		_, err := LoadFile(writeCreds(t, "[llm]\napi_key = \"secret\"\n", mode))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsecurePermissions), "mode %04o", mode)
	}

	_, err := LoadFile(writeCreds(t, "[llm]\napi_key = \"secret\"\n", 0400))
	assert.NoError(t, err)
}

func TestGetAPIKey_FallbackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-anthropic")
	creds := &Credentials{entries: map[string]*Entry{}}
	assert.Equal(t, "env-anthropic", creds.GetAPIKey("anthropic"))
}

func TestGetAPIKey_CredentialsTakesPriority(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-value")
	creds := &Credentials{entries: map[string]*Entry{"anthropic": {APIKey: "creds-value"}}}
	assert.Equal(t, "creds-value", creds.GetAPIKey("anthropic"))
}

func TestGetAPIKey_NilCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai")
	var creds *Credentials
	assert.Equal(t, "env-openai", creds.GetAPIKey("openai"))
	assert.Empty(t, creds.GetBaseURL("openai"))
}

func TestGetAPIKey_NormalizedSection(t *testing.T) {
	creds := &Credentials{entries: map[string]*Entry{"newsapi": {APIKey: "n"}}}
	assert.Equal(t, "n", creds.GetAPIKey("news-api"))
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "GOOGLE_API_KEY", EnvVar("google"))
	assert.Equal(t, "PLATFORM_A_API_KEY", EnvVar("platform-a"))
	assert.Equal(t, "FEED_FETCH_API_KEY", EnvVar("feed-fetch"))
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	creds, path, err := Load()
	require.NoError(t, err)
	assert.Nil(t, creds)
	assert.Empty(t, path)
}

func TestLoad_FromCurrentDir(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("credentials.toml", []byte("[llm]\napi_key = \"from-current-dir\"\n"), 0400))

	creds, path, err := Load()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "from-current-dir", creds.GetAPIKey("openai"))
	assert.Equal(t, "credentials.toml", path)
}
