package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// minSecretLen matches what HS256 needs to be worth signing with.
const minSecretLen = 32

func main() {
	var name string
	var hours int
	flag.StringVar(&name, "name", "", "Admin name recorded in the token subject")
	flag.IntVar(&hours, "hours", 0, "Token lifetime in hours (default JWT_EXPIRY_HOURS)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	expiry := cfg.JWTExpiry
	if hours > 0 {
		expiry = time.Duration(hours) * time.Hour
	}

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	if name == "" {
		fmt.Fprint(os.Stderr, "Enter Admin Name: ")
		line, _ := reader.ReadString('\n')
		name = strings.TrimSpace(line)
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "Error: Name is required")
		os.Exit(1)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprint(os.Stderr, "Enter JWT Secret: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		secret = strings.TrimSpace(string(raw))
	}
	if len(secret) < minSecretLen {
		fmt.Fprintf(os.Stderr, "Error: secret must be at least %d characters\n", minSecretLen)
		os.Exit(1)
	}

	// ─── Issue ─────────────────────────────────────────────────────────
	token, expiresAt, err := service.NewAuthService(secret, expiry).GenerateAdminToken(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Token for %s expires at %s\n", name, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
