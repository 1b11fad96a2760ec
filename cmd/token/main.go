// Package main mints a development access token for calling GET /soup.
// The token is signed with the current JWT secret from configuration.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/onnwee/soup/internal/auth"
	"github.com/onnwee/soup/internal/config"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file (environment variables take precedence)")
	userID := flag.String("user", "", "user ID to put in the token subject (required)")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	if err := mint(os.Stdout, cfg, *userID); err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func mint(w io.Writer, cfg *config.Config, userID string) error {
	if userID == "" {
		return errors.New("-user is required")
	}
	token, err := auth.NewJWTService(cfg.JWTSecret).GenerateAccessToken(userID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Authorization: Bearer %s\n", token)
	return err
}
