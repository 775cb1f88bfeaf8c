package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/mailcast/internal/client"
	"github.com/foxzi/mailcast/internal/config"
)

// Environment variables read by commands that call the control API
const (
	envAPIURL = "MAILCAST_API_URL"
)

var (
	apiURL     string
	apiKey     string
	apiTimeout time.Duration
)

// addRemoteFlags registers the flags of commands that talk to a running server
func addRemoteFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "control API URL (default from $"+envAPIURL+" or the config file)")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default from $"+config.EnvAPIKey+" or the config file)")
	cmd.PersistentFlags().DurationVar(&apiTimeout, "timeout", client.DefaultTimeout, "request timeout")
}

// newClient resolves the API address and key from flags, environment and config, in that order
func newClient() (*client.Client, error) {
	url := apiURL
	if url == "" {
		url = os.Getenv(envAPIURL)
	}
	key := apiKey
	if key == "" {
		key = os.Getenv(config.EnvAPIKey)
	}

	if (url == "" || key == "") && cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if url == "" {
			url = listenURL(cfg.API.ListenAddr)
		}
		if key == "" {
			key = cfg.API.APIKey
		}
	}

	if url == "" {
		url = "http://127.0.0.1:8080"
	}
	if key == "" {
		return nil, fmt.Errorf("API key is required (use --api-key, $%s or -c)", config.EnvAPIKey)
	}

	return client.New(url, key), nil
}

// listenURL turns a listen address such as ":8080" into a loopback URL
func listenURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
