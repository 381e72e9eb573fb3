// Command tinysse runs the programmable SSE broker: it parses flags (with
// TINYSSE_-prefixed environment variable fallback), optionally loads a Lua
// script to back the hook pipeline, and serves the publish/subscribe HTTP
// endpoints until an interrupt triggers graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	tinysse "github.com/tinysse/tinysse"
	"github.com/tinysse/tinysse/admin"
	"github.com/tinysse/tinysse/internal/config"
	"github.com/tinysse/tinysse/internal/tsselog"
	"github.com/tinysse/tinysse/script"
	"github.com/tinysse/tinysse/script/modules"
)

type cliFlags struct {
	listenAddr string
	logLevel   string

	keepAliveInterval time.Duration
	keepAliveText     string
	timeout           time.Duration
	timeoutRetry      int64
	queueCapacity     int
	maxBodySize       int64
	pubPath           string
	subPath           string

	scriptPath      string
	scriptData      string
	scriptTick      time.Duration
	unsafeScript    bool

	staticDir  string
	staticPath string

	adminPath string

	corsAllowOrigin      string
	corsAllowMethods     string
	corsAllowHeaders     string
	corsAllowCredentials bool
	corsMaxAge           int
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tinysse:", err)
		os.Exit(1)
	}
}

func run() error {
	var f cliFlags

	cmd := &cobra.Command{
		Use:   "tinysse",
		Short: "a programmable Server-Sent Events broker",
	}
	fs := cmd.Flags()
	fs.StringVar(&f.listenAddr, "listen", ":8080", "address to listen on")
	fs.StringVar(&f.logLevel, "log-level", "INFO", "ERROR, WARN, INFO, DEBUG or TRACE")
	fs.DurationVar(&f.keepAliveInterval, "keep-alive-interval", tinysse.DefaultKeepAlive, "interval between keep-alive comments")
	fs.StringVar(&f.keepAliveText, "keep-alive-text", tinysse.DefaultKeepAliveText, "text of the keep-alive comment")
	fs.DurationVar(&f.timeout, "timeout", tinysse.DefaultTimeout, "idle subscriber timeout")
	fs.Int64Var(&f.timeoutRetry, "timeout-retry", tinysse.DefaultTimeoutRetry, "retry: value in ms sent on timeout")
	fs.IntVar(&f.queueCapacity, "queue-capacity", tinysse.DefaultQueueCapacity, "broadcast queue ring capacity")
	fs.Int64Var(&f.maxBodySize, "max-body-size", 1<<20, "maximum publish body size in bytes")
	fs.StringVar(&f.pubPath, "pub-path", "/sse", "HTTP path for publishing")
	fs.StringVar(&f.subPath, "sub-path", "/sse", "HTTP path for subscribing")
	fs.StringVar(&f.scriptPath, "script", "", "path to a Lua hook script")
	fs.StringVar(&f.scriptData, "script-data", "", "opaque data blob passed to the startup hook")
	fs.DurationVar(&f.scriptTick, "script-tick-interval", tinysse.DefaultTickInterval, "interval between tick hook invocations")
	fs.BoolVar(&f.unsafeScript, "unsafe-script", false, "open os/io libraries in the script sandbox")
	fs.StringVar(&f.staticDir, "static-dir", "", "directory to serve static files from")
	fs.StringVar(&f.staticPath, "static-path", "/static/", "URL path prefix for static files")
	fs.StringVar(&f.adminPath, "admin-path", "/admin/", "URL path prefix for the status API")
	fs.StringVar(&f.corsAllowOrigin, "cors-allow-origin", "", "Access-Control-Allow-Origin value, empty disables CORS")
	fs.StringVar(&f.corsAllowMethods, "cors-allow-methods", "GET, POST", "Access-Control-Allow-Methods value")
	fs.StringVar(&f.corsAllowHeaders, "cors-allow-headers", "", "Access-Control-Allow-Headers value")
	fs.BoolVar(&f.corsAllowCredentials, "cors-allow-credentials", false, "send Access-Control-Allow-Credentials: true")
	fs.IntVar(&f.corsMaxAge, "cors-max-age", 0, "Access-Control-Max-Age value in seconds, 0 to omit")

	cmd.RunE = func(*cobra.Command, []string) error {
		if err := config.ApplyEnv(fs); err != nil {
			return fmt.Errorf("applying environment overrides: %w", err)
		}
		return serve(f)
	}

	return cmd.Execute()
}

func serve(f cliFlags) error {
	logger := tsselog.New(tsselog.ParseLevel(f.logLevel))
	slog.SetDefault(logger)

	hooks, engine, err := buildPipeline(f, logger)
	if err != nil {
		return err
	}
	if engine != nil {
		defer engine.Close()
	}

	if err := hooks.Startup(context.Background(), tinysse.StringValue(f.scriptData)); err != nil {
		return fmt.Errorf("startup hook failed: %w", err)
	}

	broker := tinysse.NewBroker(hooks, tinysse.BrokerConfig{
		PubPath:       f.pubPath,
		SubPath:       f.subPath,
		QueueCapacity: f.queueCapacity,
		MaxBodySize:   f.maxBodySize,
		Session: tinysse.SessionConfig{
			KeepAlive:     f.keepAliveInterval,
			KeepAliveText: f.keepAliveText,
			Timeout:       f.timeout,
			TimeoutRetry:  f.timeoutRetry,
		},
	}, logger)

	ticker := tinysse.NewTicker(hooks, f.scriptTick)
	tickCtx, stopTicker := context.WithCancel(context.Background())
	defer stopTicker()
	go ticker.Run(tickCtx)

	mux := http.NewServeMux()
	mux.Handle(f.pubPath, corsMiddleware(f, broker.Router()))
	if f.subPath != f.pubPath {
		mux.Handle(f.subPath, corsMiddleware(f, broker.Router()))
	}
	mux.Handle(f.adminPath, http.StripPrefix(trimTrailingSlash(f.adminPath), admin.Handler(broker)))
	if f.staticDir != "" {
		mux.Handle(f.staticPath, staticHandler(f.staticPath, f.staticDir))
	}

	srv := &http.Server{Addr: f.listenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", f.listenAddr, "pub_path", f.pubPath, "sub_path", f.subPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	broker.Shutdown(10 * time.Second)
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline loads and wires the Lua engine when --script is set,
// otherwise returns tinysse.DefaultPipeline.
func buildPipeline(f cliFlags, logger *slog.Logger) (tinysse.HookPipeline, *script.Engine, error) {
	if f.scriptPath == "" {
		return tinysse.DefaultPipeline{}, nil, nil
	}

	source, err := os.ReadFile(f.scriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading script %s: %w", f.scriptPath, err)
	}

	engine := script.New(f.unsafeScript, logger)
	if err := engine.Install(
		modules.UUID{},
		modules.JSON{},
		modules.Base64{},
		modules.URL{},
		modules.Log{Logger: logger},
		modules.HTTP{},
		modules.SQLite{},
		modules.Sleep{},
		modules.Mutex{},
		modules.Fernet{},
		modules.Template{},
	); err != nil {
		engine.Close()
		return nil, nil, fmt.Errorf("installing script host api: %w", err)
	}

	if err := engine.LoadString(string(source)); err != nil {
		engine.Close()
		return nil, nil, fmt.Errorf("loading script %s: %w", f.scriptPath, err)
	}

	return script.NewPipeline(engine), engine, nil
}

func trimTrailingSlash(p string) string {
	if len(p) > 1 && p[len(p)-1] == '/' {
		return p[:len(p)-1]
	}
	return p
}
