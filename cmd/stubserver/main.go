// Command stubserver runs the in-memory development backend. It implements
// the same HTTP and WebSocket contract as the production service, with
// matchmaking, chat rooms, and report handling held in memory. Point the CLI
// (or the frontend) at it for local work without the real backend.
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbtilink/matchkit/internal/devserver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	addr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      devserver.New(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // WebSocket writes outlive any fixed deadline
	}

	log.Printf("[stub] listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[stub] server error: %v", err)
	}
}
