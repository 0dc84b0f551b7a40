// Command berry-mcp runs an MCP server over stdio or HTTP/SSE.
//
// Configuration comes from BERRY_MCP_* environment variables with flag
// overrides. On stdio, logs go to stderr so stdout stays a clean protocol
// channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	goredis "github.com/redis/go-redis/v9"

	"github.com/berrykit/berry-mcp-go/broker"
	brokerredis "github.com/berrykit/berry-mcp-go/broker/redis"
	"github.com/berrykit/berry-mcp-go/server"
	"github.com/berrykit/berry-mcp-go/ssehttp"
	"github.com/berrykit/berry-mcp-go/stdio"
	"github.com/berrykit/berry-mcp-go/tools"
)

type config struct {
	Transport string `env:"BERRY_MCP_TRANSPORT,default=stdio"`
	Host      string `env:"BERRY_MCP_HOST,default=localhost"`
	Port      int    `env:"BERRY_MCP_PORT,default=8000"`
	LogLevel  string `env:"BERRY_MCP_LOG_LEVEL,default=info"`
	Debug     bool   `env:"BERRY_MCP_DEBUG,default=false"`

	// RedisAddr enables the cross-instance SSE relay when set.
	RedisAddr string `env:"BERRY_MCP_REDIS_ADDR"`
	Namespace string `env:"BERRY_MCP_NAMESPACE,default=berry-mcp"`

	ServerName    string `env:"BERRY_MCP_SERVER_NAME,default=berry-mcp-server"`
	ServerVersion string `env:"BERRY_MCP_SERVER_VERSION,default=0.1.0"`
}

func main() {
	var cfg config
	// All fields carry defaults, so a bare environment is fine.
	_ = envdecode.Decode(&cfg)

	flag.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport to serve on: stdio or sse")
	flag.StringVar(&cfg.Host, "host", cfg.Host, "bind host for the sse transport")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "bind port for the sse transport")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "include stack traces in error responses")
	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "berry-mcp:", err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.ServerName, cfg.ServerVersion,
		server.WithLogger(log),
		server.WithVerbose(cfg.Debug),
	)
	srv.Tools().Install(ctx, builtinTools())

	switch cfg.Transport {
	case "stdio":
		return srv.Run(ctx, stdio.New(stdio.WithLogger(log)))
	case "sse":
		return runSSE(ctx, cfg, log, srv)
	default:
		return fmt.Errorf("unknown transport %q (want stdio or sse)", cfg.Transport)
	}
}

func runSSE(ctx context.Context, cfg config, log *slog.Logger, srv *server.Server) error {
	opts := []ssehttp.Option{ssehttp.WithLogger(log)}

	var relay broker.Broker
	if cfg.RedisAddr != "" {
		b := brokerredis.New(brokerredis.Config{
			Client: goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}),
		})
		defer b.Close()
		relay = b
		opts = append(opts, ssehttp.WithBroker(relay, cfg.Namespace))
	}

	h := ssehttp.New(srv.HandleMessage, opts...)
	srv.Engine().SetSendFunc(h.Send)
	defer h.Close()

	if relay != nil {
		go func() {
			if err := h.RunRelay(ctx); err != nil {
				log.Error("relay.fail", slog.String("err", err.Error()))
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", addr))
		errs <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func newLogger(cfg config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	// stderr always: on stdio, stdout belongs to the protocol.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"description=Text to echo back"`
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First operand"`
	B float64 `json:"b" jsonschema:"description=Second operand"`
}

// builtinTools gives a fresh install something to call.
func builtinTools() tools.Toolset {
	return tools.Toolset{
		tools.New("echo", func(ctx context.Context, args echoArgs) (any, error) {
			return args.Text, nil
		}, tools.WithDescription("Echo the input text back")),
		tools.New("add", func(ctx context.Context, args addArgs) (any, error) {
			return args.A + args.B, nil
		}, tools.WithDescription("Add two numbers")),
	}
}
