// Command relay runs the real-time collaboration relay.
//
// Subcommands:
//  1. "serve" (default) – runs the HTTP(S) server exposing the token endpoint, the
//     /ws gateway, the introspection API, /metrics and an /mcp endpoint
//  2. "mcp" – runs the admin MCP stdio server against a running relay, or an
//     internal one on a loopback port if none answers
//  3. "token" – mints a token locally with the configured signing key
//  4. "config check" – validates the environment configuration
//
// Configuration comes from RELAY_* environment variables, optionally loaded
// from a .env file. Flags override host, port and debug logging.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/bynery-main/limonata-notion-clone-sub001/api"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/config"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/metrics"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/service"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
	"github.com/bynery-main/limonata-notion-clone-sub001/transport/mcp"
	"github.com/bynery-main/limonata-notion-clone-sub001/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Collaboration Relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newApp builds the command tree.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "relay",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "HTTP listen host (overrides RELAY_HOST)"},
			&cli.IntFlag{Name: "port", Usage: "HTTP listen port (overrides RELAY_PORT)"},
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load if present"},
		},
		Before:         loadEnvFile,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the relay server",
				Action: runServe,
			},
			{
				Name:  "mcp",
				Usage: "Run the admin MCP stdio server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Value:   "http://localhost:8080",
						Usage:   "Base URL of a running relay",
						Sources: cli.EnvVars("RELAY_URL"),
					},
				},
				Action: runStdioMCP,
			},
			{
				Name:  "token",
				Usage: "Mint a token with the configured signing key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "client-id", Usage: "Identity to issue the token to", Required: true},
					&cli.StringSliceFlag{Name: "capability", Usage: "Capability to grant (repeatable; default all)"},
					&cli.StringFlag{Name: "room", Usage: "Room pattern the token is scoped to"},
				},
				Action: runToken,
			},
			{
				Name:  "config",
				Usage: "Configuration helpers",
				Commands: []*cli.Command{
					{
						Name:   "check",
						Usage:  "Validate the environment configuration",
						Action: runConfigCheck,
					},
				},
			},
		},
	}
}

// loadEnvFile loads the dotenv file if it exists.
func loadEnvFile(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("env-file")
	if path == "" {
		return ctx, nil
	}
	if err := godotenv.Load(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return ctx, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return ctx, nil
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.Bool("debug") {
		cfg.Debug = true
	}
	return cfg, nil
}

// Relay bundles the wired components behind one HTTP handler.
type Relay struct {
	Config  *config.Config
	Metrics *metrics.Metrics
	Issuer  *token.Issuer
	Gateway *websocket.Gateway
	Service service.RelayService
	Handler http.Handler
}

// newRelay wires token issuer, gateway, service and HTTP routes. mcpBaseURL
// is where the /mcp tools send their REST calls.
func newRelay(cfg *config.Config, mcpBaseURL string) *Relay {
	m := metrics.New()
	issuer := token.NewIssuer([]byte(cfg.SigningKey),
		token.WithTTL(cfg.TokenTTL),
		token.WithNamespace(cfg.RoomNamespace),
	)

	gw := websocket.Start(websocket.Config{
		IdleTimeout:     cfg.IdleTimeout,
		AuthTimeout:     cfg.AuthTimeout,
		QueueCapacity:   cfg.QueueCapacity,
		MaxMessageBytes: cfg.MaxMessageBytes,
		CheckOrigin:     originChecker(cfg),
	}, issuer, websocket.WithMetrics(m))

	svc := service.NewRelayService(issuer, gw.Registry(), gw.Presence(), gw, service.WithMetrics(m))
	mcpClient := mcp.NewClient(mcpBaseURL)

	handler := api.NewServer(svc, gw,
		api.WithAllowedOrigin(cfg.OriginAllowed),
		api.WithMetricsHandler(m.Handler()),
		api.WithMCPServer(mcpClient.GetMCPServer()),
	)

	return &Relay{
		Config:  cfg,
		Metrics: m,
		Issuer:  issuer,
		Gateway: gw,
		Service: svc,
		Handler: handler,
	}
}

// originChecker admits upgrades without an Origin header, same-host origins
// and the configured allow-list.
func originChecker(cfg *config.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || cfg.OriginAllowed(origin) {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// localBaseURL is how processes on this host reach the listener.
func localBaseURL(cfg *config.Config) string {
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	host := cfg.Host
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, fmt.Sprint(cfg.Port)))
}

// runServe starts the HTTP server, and the ngrok tunnel when enabled, and
// shuts both down on SIGINT or SIGTERM.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	slog.SetDefault(cfg.Logger(os.Stderr))

	relay := newRelay(cfg, localBaseURL(cfg))

	// No write timeout: websocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           relay.Handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("relay listening",
			"addr", cfg.Addr(),
			"tls", cfg.TLSEnabled(),
			"version", Version,
		)
		var err error
		if cfg.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Ngrok.Enabled {
		g.Go(func() error {
			serveTunnel(gctx, cfg.Ngrok, relay.Handler)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := relay.Gateway.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown incomplete", "err", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("relay stopped")
	return nil
}

// serveTunnel exposes handler through ngrok until ctx is done. Tunnel
// failures are logged; the local listener keeps running.
func serveTunnel(ctx context.Context, cfg config.NgrokConfig, handler http.Handler) {
	if cfg.AuthToken == "" {
		slog.Warn("ngrok enabled but NGROK_AUTHTOKEN is empty")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		slog.Error("ngrok tunnel failed", "err", err)
		return
	}
	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			slog.Warn("ngrok tunnel close", "err", err)
		}
	}()

	slog.Info("ngrok tunnel established", "url", tun.URL())
	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		slog.Error("ngrok server error", "err", err)
	}
}

// runStdioMCP serves the admin MCP tools over stdio. It targets the relay at
// --url if one answers; otherwise it starts an internal relay on a random
// loopback port.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	baseURL := strings.TrimRight(cmd.String("url"), "/")

	if !relayReachable(baseURL) {
		slog.Info("no relay at base url, starting internal server", "url", baseURL)

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		relay := newRelay(cfg, baseURL)
		httpServer := &http.Server{Handler: relay.Handler, ReadHeaderTimeout: 15 * time.Second}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("internal http server", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			relay.Gateway.Shutdown(shutdownCtx)
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("MCP stdio server ready", "relay", baseURL)
	client := mcp.NewClient(baseURL)
	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

func relayReachable(baseURL string) bool {
	httpClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := httpClient.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// runToken prints a freshly minted token as JSON.
func runToken(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	caps, err := token.ParseCapabilities(cmd.StringSlice("capability"))
	if err != nil {
		return err
	}

	issuer := token.NewIssuer([]byte(cfg.SigningKey),
		token.WithTTL(cfg.TokenTTL),
		token.WithNamespace(cfg.RoomNamespace),
	)
	tok, err := issuer.Issue(ctx, cmd.String("client-id"), token.Request{
		Capabilities: caps,
		RoomPattern:  cmd.String("room"),
	})
	if err != nil {
		return err
	}

	return writeJSON(cmd.Root().Writer, tok)
}

// runConfigCheck reports every configuration problem at once.
func runConfigCheck(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "configuration OK (listening on %s, tls=%t)\n", cfg.Addr(), cfg.TLSEnabled())
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
