package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-connections/nat"
	"golang.org/x/term"

	"github.com/softsweb/traefik-setup/internal/domain"
	"github.com/softsweb/traefik-setup/internal/engine"
	"github.com/softsweb/traefik-setup/internal/provision"
	"github.com/softsweb/traefik-setup/internal/teardown"
	"github.com/softsweb/traefik-setup/pkg/config"
	"github.com/softsweb/traefik-setup/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "up":
		err = commandUp(args)
	case "down":
		err = commandDown(args)
	case "status":
		err = commandStatus(args)
	case "reap":
		err = commandReap(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	email := fs.String("email", "", "Email for Let's Encrypt registration (optional)")
	domainFlag := fs.String("domain", "", "Test domain for the demo page (optional)")
	yes := fs.Bool("yes", false, "Skip the auto-removal confirmation prompt")
	fs.Parse(args)

	cfg := config.LoadSetup()
	log := logger.NewText("traefik-setup", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := engine.DetectCompose(ctx, log)
	if err != nil {
		return err
	}

	req := provision.Request{
		OperatorEmail: strings.TrimSpace(*email),
		TestDomain:    strings.TrimSpace(*domainFlag),
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	reader := bufio.NewReader(os.Stdin)
	if interactive {
		if req.OperatorEmail == "" {
			req.OperatorEmail = prompt(reader, "Enter your email for Let's Encrypt (optional): ")
		}
		if req.TestDomain == "" {
			req.TestDomain = prompt(reader, "Enter test domain/subdomain (optional, e.g., test.yourdomain.com): ")
		}
	}

	if req.TestDomain != "" && !*yes {
		if !interactive {
			return errors.New("--yes is required to deploy the test page non-interactively")
		}
		answer := prompt(reader, fmt.Sprintf("Test page will auto-remove after %s. Continue? (y/n): ", formatTTL(cfg.TestTTL)))
		if !strings.HasPrefix(strings.ToLower(answer), "y") {
			fmt.Println("Setup cancelled.")
			return nil
		}
	}

	eng, err := engine.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer eng.Close()

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own binary: %w", err)
	}
	spawner := teardown.NewSpawner(binary, cfg.HandlePath(), cfg.ReapLogPath(), comp, log)

	svc := provision.New(eng, comp, spawner, log, cfg)
	result, err := svc.Provision(ctx, req)
	if err != nil {
		return err
	}

	fmt.Print(provision.Summary(cfg, req, result))
	return nil
}

func commandDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadSetup()
	log := logger.NewText("traefik-setup", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := engine.DetectCompose(ctx, log)
	if err != nil {
		return err
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own binary: %w", err)
	}
	spawner := teardown.NewSpawner(binary, cfg.HandlePath(), cfg.ReapLogPath(), comp, log)

	pending, err := spawner.Cancel(ctx)
	if errors.Is(err, teardown.ErrNoHandle) {
		fmt.Println("No scheduled teardown found.")
		return nil
	}
	if err != nil {
		return err
	}
	if pending {
		fmt.Println("Scheduled teardown cancelled, test page removed.")
	} else {
		fmt.Println("Teardown had already fired, test page removal re-issued.")
	}
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadSetup()

	eng, err := engine.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := eng.Ping(ctx); err != nil {
		return err
	}

	printContainer(ctx, eng, cfg.ProxyContainer)
	printContainer(ctx, eng, cfg.TestContainer)

	h, err := teardown.LoadHandle(cfg.HandlePath())
	switch {
	case errors.Is(err, teardown.ErrNoHandle):
		fmt.Println("No teardown scheduled.")
	case err != nil:
		return err
	case h.Stale(time.Now()):
		fmt.Printf("Teardown of %s was due at %s, run 'traefik-setup down' to clean up.\n", h.Resource.Name, h.FireAt.Local().Format("15:04:05"))
	default:
		fmt.Printf("Teardown of %s scheduled for %s (reaper pid %d).\n", h.Resource.Name, h.FireAt.Local().Format("15:04:05"), h.PID)
	}
	return nil
}

func commandReap(args []string) error {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	id := fs.String("id", "", "Task id from the scheduling run")
	name := fs.String("name", "", "Resource to remove")
	manifest := fs.String("manifest", "", "Compose manifest of the resource")
	fireAtRaw := fs.String("fire-at", "", "RFC3339 time at which to remove the resource")
	handlePath := fs.String("handle", "", "Persisted teardown handle to drop after firing")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*manifest) == "" {
		return errors.New("--name and --manifest are required")
	}
	fireAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*fireAtRaw))
	if err != nil {
		return fmt.Errorf("parse --fire-at: %w", err)
	}

	log := logger.New("reaper", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := engine.DetectCompose(ctx, log)
	if err != nil {
		return err
	}

	m := teardown.New(comp, log)
	res := domain.Resource{Name: *name, ComposeFile: *manifest}
	task := m.ScheduleWithID(strings.TrimSpace(*id), res, time.Until(fireAt))

	err = m.Wait(ctx, task)
	switch {
	case err == nil:
		if *handlePath != "" {
			if err := teardown.RemoveHandle(*handlePath); err != nil {
				log.Warn("failed to drop teardown handle", "error", err)
			}
		}
		return nil
	case errors.Is(err, context.Canceled):
		// Signalled by a manual cancel, which owns the removal and the
		// handle from here.
		log.Info("interrupted before firing, leaving cleanup to the canceller", "task_id", task.ID)
		return nil
	default:
		return err
	}
}

func printContainer(ctx context.Context, eng *engine.Client, name string) {
	state, err := eng.InspectContainer(ctx, name)
	if errors.Is(err, engine.ErrNotFound) {
		fmt.Printf("%-22s not found\n", name)
		return
	}
	if err != nil {
		fmt.Printf("%-22s error: %v\n", name, err)
		return
	}
	fmt.Printf("%-22s %-10s %s\n", name, state.Status, formatPorts(state.Ports))
}

func formatPorts(ports nat.PortMap) string {
	if len(ports) == 0 {
		return ""
	}
	var parts []string
	for port, bindings := range ports {
		if len(bindings) == 0 {
			parts = append(parts, string(port))
			continue
		}
		for _, b := range bindings {
			parts = append(parts, fmt.Sprintf("%s:%s->%s", b.HostIP, b.HostPort, port))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func formatTTL(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return d.String()
}

func printUsage() {
	fmt.Printf("traefik-setup %s\n\n", buildVersion)
	fmt.Print(`Usage:
	traefik-setup up [--email you@example.com] [--domain test.example.com] [--yes]
	traefik-setup down
	traefik-setup status
	traefik-setup version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
