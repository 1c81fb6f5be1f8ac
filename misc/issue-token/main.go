package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/config"
)

func main() {
	name := flag.String("name", "", "display name embedded in the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := flag.String("secret", "", "signing secret (defaults to JWT_SECRET from config)")
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatal("Usage: go run ./misc/issue-token [-name N] [-ttl 24h] [-secret S] <principal-id>")
	}

	key := *secret
	if key == "" {
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		key = cfg.JWTSecret
	}

	token, err := auth.IssueToken(key, flag.Arg(0), *name, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Fprintln(os.Stdout, token)
}
