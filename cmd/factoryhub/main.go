package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"factoryhub/config"
	"factoryhub/internal/logger"
)

const defaultConfigName = "factoryhub.yml"

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), defaultConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return defaultConfigName
}

// loadConfig resolves, reads and completes the configuration, then
// initializes the logger from it.
func loadConfig(configArg string) (*config.Config, string, error) {
	path := findConfigFile(configArg)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, path, err
	}

	lc := cfg.FactoryHub.Logging
	if err := logger.Init(logger.Options{
		Enabled: lc.Enabled,
		Level:   lc.Level,
		File:    lc.File,
		Console: lc.Console,
	}); err != nil {
		return nil, path, fmt.Errorf("init logger: %w", err)
	}
	return cfg, path, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: factoryhub <command> [flags]

commands:
  serve   run the webhook hub (default)
  replay  resend captured deliveries to a hub or relay queue
  watch   subscribe to a hub and print live events
`)
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "replay":
			os.Exit(runReplay(os.Args[2:]))
		case "watch":
			os.Exit(runWatch(os.Args[2:]))
		case "-h", "--help", "help":
			usage()
			return
		default:
			// Backward-compatible mode: flags go straight to serve.
			os.Exit(runServe(os.Args[1:]))
		}
	}
	os.Exit(runServe(nil))
}
