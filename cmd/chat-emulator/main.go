// Command chat-emulator runs an in-memory chat backend for local development.
package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/chat-sync-client/config"
	"github.com/example/chat-sync-client/modules/emulator"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.LoadEmulator()

	log.Println("=== Chat Emulator - Fiber REST + WebSocket ===")
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Seed users: %d", cfg.SeedUsers)

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithNATSPort(cfg.NATSPort),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	emulatorModule := emulator.NewModule(cfg, "", app.Logger())
	app.Register(emulatorModule)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo(cfg.Port)

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

func printStartupInfo(port string) {
	log.Println("")
	log.Println("Emulator started successfully!")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /health                       - Health check")
	log.Println("  GET    /metrics                      - Prometheus metrics")
	log.Println("  POST   /api/auth/token               - Dev login {userId, name}")
	log.Println("  GET    /api/users                    - List users")
	log.Println("  GET    /api/chat/rooms               - List my rooms")
	log.Println("  POST   /api/chat/rooms               - Create or get a room {otherUserId}")
	log.Println("  GET    /api/chat/rooms/:id/messages  - Message history (?limit&offset)")
	log.Println("  POST   /api/chat/rooms/:id/messages  - Send a message")
	log.Println("  PUT    /api/chat/rooms/:id/read      - Mark a room read")
	log.Println("  GET    /api/chat/unread-count        - Total unread")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Println("  Authorization: Bearer <token>")
	log.Println("  Events in:  join_room, send_message, mark_as_read, get_messages, typing, stop_typing")
	log.Println("  Events out: room_joined, message_sent, new_message, private_message,")
	log.Println("              messages_read, user_typing, user_stop_typing, notification, error")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
