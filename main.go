package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/config"
	"github.com/example/chat-sync-client/modules/console"
	"github.com/example/chat-sync-client/modules/notify"
	"github.com/example/chat-sync-client/modules/session"
	"github.com/example/chat-sync-client/modules/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadClient()

	log.Println("=== Chat Sync Client - WebSocket + REST fallback ===")
	log.Printf("API: %s", cfg.APIURL)
	log.Printf("WebSocket: %s", cfg.WSURL)
	if cfg.Token == "" {
		log.Fatal("CHAT_TOKEN is required (POST /api/auth/token on the emulator issues one)")
	}

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithNATSPort(cfg.NATSPort),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	tokens := auth.NewMemoryStore(cfg.Token)

	telemetryModule := telemetry.NewModule(telemetry.Config{
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Environment,
	}, app.Logger())
	sessionModule := session.NewModule(cfg, tokens, telemetryModule.Registry(), app.Logger())
	notifyModule := notify.NewModule(100, printToast, app.Logger())

	terminal := console.New(func() console.Session {
		if e := sessionModule.Engine(); e != nil {
			return e
		}
		return nil
	}, os.Stdout)
	sessionModule.Watch(terminal.Render)
	consoleModule := console.NewModule(terminal, os.Stdin, app.Logger())

	// Telemetry first so tracing is installed before the first request.
	app.Register(telemetryModule)
	app.Register(notifyModule)
	app.Register(sessionModule)
	app.Register(consoleModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	log.Println("Client started. Type /help for commands, Ctrl+C to quit.")
	if addr := telemetryModule.Addr(); addr != "" {
		log.Printf("Metrics: http://%s/metrics", addr)
	}

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printToast(e notify.Entry) {
	fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", e.Kind, e.Title, e.Body)
}
