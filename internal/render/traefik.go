package render

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/softsweb/traefik-setup/pkg/config"
)

// DefaultEmail is the ACME contact used when the operator provides none. The
// resolver rejects an empty address, so rendering never emits one.
const DefaultEmail = "admin@example.com"

// staticConfig mirrors the subset of Traefik's static configuration this
// installer manages.
type staticConfig struct {
	API           apiSection              `yaml:"api"`
	EntryPoints   map[string]entryPoint   `yaml:"entryPoints"`
	Providers     providers               `yaml:"providers"`
	CertResolvers map[string]certResolver `yaml:"certificatesResolvers"`
}

type apiSection struct {
	Dashboard bool `yaml:"dashboard"`
	Insecure  bool `yaml:"insecure"`
}

type entryPoint struct {
	Address string          `yaml:"address"`
	HTTP    *entryPointHTTP `yaml:"http,omitempty"`
}

type entryPointHTTP struct {
	Redirections redirections `yaml:"redirections"`
}

type redirections struct {
	EntryPoint redirectTarget `yaml:"entryPoint"`
}

type redirectTarget struct {
	To     string `yaml:"to"`
	Scheme string `yaml:"scheme"`
}

type providers struct {
	Docker dockerProvider `yaml:"docker"`
}

type dockerProvider struct {
	Endpoint         string `yaml:"endpoint"`
	ExposedByDefault bool   `yaml:"exposedByDefault"`
}

type certResolver struct {
	ACME acmeConfig `yaml:"acme"`
}

type acmeConfig struct {
	Email         string        `yaml:"email"`
	Storage       string        `yaml:"storage"`
	HTTPChallenge httpChallenge `yaml:"httpChallenge"`
}

type httpChallenge struct {
	EntryPoint string `yaml:"entryPoint"`
}

// StaticConfig renders the proxy's static configuration: dashboard on, a
// plaintext entrypoint that redirects to TLS, the Docker provider, and the
// letsencrypt resolver contacting the operator's email.
func StaticConfig(cfg config.Setup, email string) ([]byte, error) {
	address := strings.TrimSpace(email)
	if address == "" {
		address = DefaultEmail
	}
	doc := staticConfig{
		API: apiSection{Dashboard: true, Insecure: true},
		EntryPoints: map[string]entryPoint{
			"web": {
				Address: ":80",
				HTTP: &entryPointHTTP{
					Redirections: redirections{
						EntryPoint: redirectTarget{To: "websecure", Scheme: "https"},
					},
				},
			},
			"websecure": {Address: ":443"},
		},
		Providers: providers{
			Docker: dockerProvider{
				Endpoint:         "unix:///var/run/docker.sock",
				ExposedByDefault: false,
			},
		},
		CertResolvers: map[string]certResolver{
			"letsencrypt": {
				ACME: acmeConfig{
					Email:         address,
					Storage:       cfg.ACMEStoragePath(),
					HTTPChallenge: httpChallenge{EntryPoint: "web"},
				},
			},
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal static config: %w", err)
	}
	return out, nil
}
