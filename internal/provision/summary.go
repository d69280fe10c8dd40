package provision

import (
	"fmt"
	"strings"

	"github.com/softsweb/traefik-setup/pkg/config"
)

// Summary renders the operator-facing report printed after a successful
// provisioning run.
func Summary(cfg config.Setup, req Request, res Result) string {
	var b strings.Builder

	b.WriteString("Traefik setup completed!\n\n")
	b.WriteString("Summary:\n")
	fmt.Fprintf(&b, "  - Traefik configuration: %s\n", cfg.ConfigDir)
	fmt.Fprintf(&b, "  - Compose manifests:     %s\n", cfg.InstallDir)
	fmt.Fprintf(&b, "  - Docker network:        %s\n", cfg.NetworkName)

	domainName := strings.TrimSpace(req.TestDomain)
	if res.TestResource != nil && domainName != "" {
		fmt.Fprintf(&b, "\nYour test page is available at:\n  https://%s\n", domainName)
		if res.Teardown != nil {
			fmt.Fprintf(&b, "\nTest page will be removed automatically at %s\n", res.Teardown.FireAt.Local().Format("15:04:05"))
		}
		fmt.Fprintf(&b, "\nTraefik dashboard:\n  https://traefik.%s\n", domainName)
		b.WriteString("\nTo remove the test page early:\n  traefik-setup down\n")
	} else {
		b.WriteString("\nNo test domain provided, only Traefik is running.\n")
		fmt.Fprintf(&b, "Attach services by joining the %q network and setting Traefik labels.\n", cfg.NetworkName)
	}

	fmt.Fprintf(&b, "\nTo manage Traefik:\n  cd %s && docker compose [logs|restart|down]\n", cfg.InstallDir)
	return b.String()
}
