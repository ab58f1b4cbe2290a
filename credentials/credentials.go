// Package credentials loads API keys for the AI and platform collaborators.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds keys loaded from credentials.toml. Each top-level table
// names a provider or service:
//
//	[anthropic]
//	api_key = "sk-ant-..."
//
//	[platform-a]
//	api_key = "..."
//	base_url = "https://api.platform-a.example"
type Credentials struct {
	// LLM is the generic key used when no provider-specific key is found.
	LLM *Entry

	entries map[string]*Entry
}

// Entry holds the credentials for a single provider or service.
type Entry struct {
	APIKey  string
	BaseURL string
}

// StandardPaths returns the standard credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "quotagate", "credentials.toml"),
			filepath.Join(home, ".quotagate", "credentials.toml"),
		)
	}
	return paths
}

// Load loads credentials from the first available standard location.
// A missing file is not an error; the returned Credentials is nil and
// lookups fall back to environment variables.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if the file mode is not 0400.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	creds := &Credentials{entries: make(map[string]*Entry)}
	for key, value := range raw {
		section, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		entry := &Entry{}
		entry.APIKey, _ = section["api_key"].(string)
		entry.BaseURL, _ = section["base_url"].(string)
		if entry.APIKey == "" && entry.BaseURL == "" {
			continue
		}
		if key == "llm" {
			creds.LLM = entry
		} else {
			creds.entries[key] = entry
		}
	}
	return creds, nil
}

func (c *Credentials) lookup(name string) *Entry {
	if c == nil {
		return nil
	}
	if e, ok := c.entries[name]; ok {
		return e
	}
	if e, ok := c.entries[normalize(name)]; ok {
		return e
	}
	return nil
}

// GetAPIKey returns the API key for a provider or service.
// Priority: [name] section > [llm] section (LLM providers only) > environment variable.
func (c *Credentials) GetAPIKey(name string) string {
	if e := c.lookup(name); e != nil && e.APIKey != "" {
		return e.APIKey
	}
	if c != nil && isLLMProvider(name) && c.LLM != nil && c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	return os.Getenv(EnvVar(name))
}

// GetBaseURL returns a configured base URL override, or "".
func (c *Credentials) GetBaseURL(name string) string {
	if e := c.lookup(name); e != nil {
		return e.BaseURL
	}
	return ""
}

func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", ""))
}

func isLLMProvider(name string) bool {
	switch name {
	case "anthropic", "openai", "google":
		return true
	}
	return false
}

// EnvVar returns the environment variable consulted for name.
func EnvVar(name string) string {
	switch name {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		// platform-a -> PLATFORM_A_API_KEY
		return strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
	}
}
