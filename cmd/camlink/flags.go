package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CAMLINK_CONFIG", ""),
		"Path to configuration file (env: CAMLINK_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("CAMLINK_CONFIG", ""),
		"Path to configuration file (env: CAMLINK_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CAMLINK_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: CAMLINK_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CAMLINK_LOG_FORMAT", ""),
		"Log format: json, text (env: CAMLINK_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("CAMLINK_DEBUG", false),
		"Enable debug mode (env: CAMLINK_DEBUG)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func printDetailedHelp() {
	fmt.Fprintf(os.Stderr, `%s - camera service connection client

Maintains a resilient WebSocket session to a remote camera service:
authenticated calls, live event mirroring, automatic reconnection with
subscription replay, and a Prometheus metrics endpoint.

Usage:
  %s [flags]

Flags:
`, appName, appName)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  CAMLINK_TOKEN   Authentication token (overrides the config file)
  CAMLINK_CONFIG  Path to the configuration file
`)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "yes":
		return true
	case "0", "false", "FALSE", "no":
		return false
	}
	return fallback
}
