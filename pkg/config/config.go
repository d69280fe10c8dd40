package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	staticConfigFile  = "traefik.yml"
	acmeStorageFile   = "acme.json"
	proxyManifestFile = "docker-compose.yml"
	testManifestFile  = "docker-compose-test.yml"
	envFile           = ".env"
	handleFile        = "teardown.json"
	reapLogFile       = "teardown.log"
)

// Setup holds runtime configuration for the installer. All paths and names
// default to the conventional single-host layout but can be overridden, which
// keeps the provisioner and teardown manager testable outside system paths.
type Setup struct {
	ConfigDir      string
	CertsDir       string
	InstallDir     string
	NetworkName    string
	ProxyImage     string
	TestImage      string
	ProxyContainer string
	TestContainer  string
	TestTTL        time.Duration
	DockerHost     string
}

// LoadSetup constructs a Setup from environment variables.
func LoadSetup() Setup {
	configDir := GetString("TRAEFIK_SETUP_CONFIG_DIR", "/etc/traefik")
	return Setup{
		ConfigDir:      configDir,
		CertsDir:       GetString("TRAEFIK_SETUP_CERTS_DIR", filepath.Join(configDir, "certs")),
		InstallDir:     GetString("TRAEFIK_SETUP_INSTALL_DIR", "/opt/traefik"),
		NetworkName:    GetString("TRAEFIK_SETUP_NETWORK", "traefik"),
		ProxyImage:     GetString("TRAEFIK_SETUP_PROXY_IMAGE", "traefik:v2.10"),
		TestImage:      GetString("TRAEFIK_SETUP_TEST_IMAGE", "softsweb/traefik-test-page:latest"),
		ProxyContainer: GetString("TRAEFIK_SETUP_PROXY_CONTAINER", "traefik"),
		TestContainer:  GetString("TRAEFIK_SETUP_TEST_CONTAINER", "traefik-test-page"),
		TestTTL:        time.Duration(GetInt("TRAEFIK_SETUP_TEST_TTL_SECONDS", 600)) * time.Second,
		DockerHost:     GetString("DOCKER_HOST", ""),
	}
}

// StaticConfigPath is the location of the rendered Traefik static config.
func (s Setup) StaticConfigPath() string { return filepath.Join(s.ConfigDir, staticConfigFile) }

// ACMEStoragePath is where Traefik persists ACME account and certificate
// state. The certs directory is mounted at the same path inside the
// container, so the rendered config references this path verbatim.
func (s Setup) ACMEStoragePath() string { return filepath.Join(s.CertsDir, acmeStorageFile) }

// ProxyManifestPath is the compose manifest for the proxy service.
func (s Setup) ProxyManifestPath() string { return filepath.Join(s.InstallDir, proxyManifestFile) }

// TestManifestPath is the compose manifest for the temporary test page.
func (s Setup) TestManifestPath() string { return filepath.Join(s.InstallDir, testManifestFile) }

// EnvFilePath is the compose interpolation file recording the test domain.
func (s Setup) EnvFilePath() string { return filepath.Join(s.InstallDir, envFile) }

// HandlePath is the persisted cancellation handle for a scheduled teardown.
func (s Setup) HandlePath() string { return filepath.Join(s.InstallDir, handleFile) }

// ReapLogPath collects the detached reaper's log output.
func (s Setup) ReapLogPath() string { return filepath.Join(s.InstallDir, reapLogFile) }

// GetString retrieves an environment variable or returns a fallback when unset.
func GetString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetInt retrieves an environment variable as integer or returns fallback.
func GetInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("invalid value for %s: %v", key, err)
			return fallback
		}
		return parsed
	}
	return fallback
}
