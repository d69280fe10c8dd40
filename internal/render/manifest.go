package render

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/softsweb/traefik-setup/pkg/config"
)

type composeDocument struct {
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Restart       string   `yaml:"restart"`
	Networks      []string `yaml:"networks"`
	Ports         []string `yaml:"ports,omitempty"`
	Volumes       []string `yaml:"volumes,omitempty"`
	Labels        []string `yaml:"labels"`
}

type composeNetwork struct {
	External bool   `yaml:"external"`
	Name     string `yaml:"name"`
}

// ProxyManifest renders the compose manifest for the proxy service. The
// dashboard router interpolates TEST_DOMAIN from the env file at compose time
// and falls back to localhost when no test domain was recorded.
func ProxyManifest(cfg config.Setup) ([]byte, error) {
	doc := composeDocument{
		Services: map[string]composeService{
			"traefik": {
				Image:         cfg.ProxyImage,
				ContainerName: cfg.ProxyContainer,
				Restart:       "unless-stopped",
				Networks:      []string{cfg.NetworkName},
				Ports:         []string{"80:80", "443:443"},
				Volumes: []string{
					"/var/run/docker.sock:/var/run/docker.sock:ro",
					cfg.StaticConfigPath() + ":" + cfg.StaticConfigPath() + ":ro",
					cfg.CertsDir + ":" + cfg.CertsDir,
				},
				Labels: []string{
					"traefik.enable=true",
					"traefik.http.routers.traefik.rule=Host(`traefik.${TEST_DOMAIN:-localhost}`)",
					"traefik.http.routers.traefik.service=api@internal",
					"traefik.http.routers.traefik.entrypoints=websecure",
					"traefik.http.routers.traefik.tls.certresolver=letsencrypt",
				},
			},
		},
		Networks: networksSection(cfg),
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal proxy manifest: %w", err)
	}
	return out, nil
}

// TestPageManifest renders the compose manifest for the temporary test page
// routed at the given domain.
func TestPageManifest(cfg config.Setup, domain string) ([]byte, error) {
	if domain == "" {
		return nil, fmt.Errorf("test domain cannot be empty")
	}
	doc := composeDocument{
		Services: map[string]composeService{
			"test-page": {
				Image:         cfg.TestImage,
				ContainerName: cfg.TestContainer,
				Restart:       "no",
				Networks:      []string{cfg.NetworkName},
				Labels: []string{
					"traefik.enable=true",
					fmt.Sprintf("traefik.http.routers.test-page.rule=Host(`%s`)", domain),
					"traefik.http.routers.test-page.entrypoints=websecure",
					"traefik.http.routers.test-page.tls.certresolver=letsencrypt",
				},
			},
		},
		Networks: networksSection(cfg),
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal test manifest: %w", err)
	}
	return out, nil
}

func networksSection(cfg config.Setup) map[string]composeNetwork {
	return map[string]composeNetwork{
		cfg.NetworkName: {External: true, Name: cfg.NetworkName},
	}
}
