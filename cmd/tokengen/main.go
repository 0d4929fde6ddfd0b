package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"voice-telephony/internal/auth"
	"voice-telephony/internal/config"
	"voice-telephony/internal/rbac"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run cmd/tokengen/main.go <user-id> <operator|agent|admin>")
		fmt.Println("Mints an access/refresh token pair with JWT_SECRET from the environment or .env.local")
		os.Exit(1)
	}
	userID, role := os.Args[1], os.Args[2]
	if !rbac.IsKnown(role) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		os.Exit(1)
	}

	_ = godotenv.Load(".env.local")
	cfg, err := config.LoadAuth(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	pair, err := m.IssuePair(time.Now(), auth.Identity{UserID: userID, Role: role})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(pair)
}
