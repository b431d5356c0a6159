package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DockerSecretsPath is where Docker and Swarm mount secrets
	DockerSecretsPath = "/run/secrets"
	// TokenSecretName holds a CTMS API bearer token
	TokenSecretName = "ctms_api_token" // #nosec G101 - secret file name, not a credential
	// ConfigSecretName holds a YAML config file, plain or base64 encoded
	ConfigSecretName = "ctms_config"
	// PassphraseSecretName holds the credentials file passphrase
	PassphraseSecretName = "ctms_passphrase" // #nosec G101 - secret file name, not a credential
)

// DockerSecrets are the values found in a secrets directory.
type DockerSecrets struct {
	Token      string
	Passphrase string
	ConfigPath string // a decoded copy of the config secret, if any
}

// LoadDockerSecrets reads secrets from dir (normally DockerSecretsPath). A
// base64 encoded config secret is decoded into tmpDir so viper can read it.
func LoadDockerSecrets(dir, tmpDir string) (*DockerSecrets, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("not running in Docker environment")
	}

	secrets := &DockerSecrets{
		Token:      readSecret(filepath.Join(dir, TokenSecretName)),
		Passphrase: readSecret(filepath.Join(dir, PassphraseSecretName)),
	}

	configPath := filepath.Join(dir, ConfigSecretName)
	if raw := readSecret(configPath); raw != "" {
		path, err := materializeConfig(raw, configPath, tmpDir)
		if err != nil {
			return nil, err
		}
		secrets.ConfigPath = path
	}

	if secrets.Token == "" && secrets.ConfigPath == "" && secrets.Passphrase == "" {
		return nil, fmt.Errorf("no valid Docker secrets found")
	}
	return secrets, nil
}

// materializeConfig returns a path to YAML config content. Plain YAML is
// used in place; base64 content is decoded into a file under tmpDir.
func materializeConfig(raw, path, tmpDir string) (string, error) {
	var probe map[string]interface{}
	if err := yaml.Unmarshal([]byte(raw), &probe); err == nil && len(probe) > 0 {
		return path, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("config secret is neither YAML nor base64")
	}
	if err := yaml.Unmarshal(decoded, &probe); err != nil {
		return "", fmt.Errorf("decoded config secret is not valid YAML: %w", err)
	}

	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	out := filepath.Join(tmpDir, "docker-config.yaml")
	if err := os.WriteFile(out, decoded, 0600); err != nil {
		return "", fmt.Errorf("failed to write decoded config: %w", err)
	}
	return out, nil
}

func readSecret(path string) string {
	data, err := os.ReadFile(path) // #nosec G304 - Docker secret path
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsRunningInDocker checks if the application is running inside a Docker container
func IsRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if cgroup, err := os.ReadFile("/proc/1/cgroup"); err == nil { // #nosec G304 - well-known proc path
		if strings.Contains(string(cgroup), "docker") {
			return true
		}
	}
	if _, err := os.Stat(DockerSecretsPath); err == nil {
		return true
	}
	return false
}

// ApplyDockerDefaults adjusts a config for containers: JSON logs and an HTTP
// listener on all interfaces.
func (c *Config) ApplyDockerDefaults() {
	c.Logging.Format = "json"
	if c.HTTP.Listen == "" || strings.HasPrefix(c.HTTP.Listen, "localhost:") || strings.HasPrefix(c.HTTP.Listen, "127.0.0.1:") {
		c.HTTP.Listen = ":8088"
	}
}
