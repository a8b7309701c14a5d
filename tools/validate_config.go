//go:build tools
// +build tools

// Package main provides a configuration validation tool for bmpow.
// It validates client and server configuration files for correctness.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"bmpow/config"
)

func main() {
	clientConfig := flag.String("client", "", "Path to client config file (default: search paths)")
	serverConfig := flag.String("server", "", "Path to server config file (default: search paths)")
	all := flag.Bool("all", false, "Validate all config files in search paths")
	flag.Parse()

	exitCode := 0

	if *all || (*clientConfig == "" && *serverConfig == "") {
		// Validate both configs
		fmt.Println("Validating bmpow Configuration Files")
		fmt.Println("====================================")
		fmt.Println()

		if !validateClientConfig(*clientConfig) {
			exitCode = 1
		}
		fmt.Println()

		if !validateServerConfig(*serverConfig) {
			exitCode = 1
		}
	} else {
		if *clientConfig != "" {
			if !validateClientConfig(*clientConfig) {
				exitCode = 1
			}
		}

		if *serverConfig != "" {
			if !validateServerConfig(*serverConfig) {
				exitCode = 1
			}
		}
	}

	os.Exit(exitCode)
}

func validateClientConfig(configPath string) bool {
	fmt.Println("Client Configuration")
	fmt.Println("--------------------")

	if configPath == "" {
		// Search for config file
		configPath = findConfigFile("client-config.yaml")
		if configPath == "" {
			fmt.Println("Status: ⚠️  No config file found (will use defaults)")
			fmt.Println("Search paths:")
			fmt.Println("  - ./client-config.yaml")
			fmt.Println("  - ~/.bmpow/client-config.yaml")
			fmt.Println("  - /etc/bmpow/client-config.yaml")
			return true // Not an error - defaults are valid
		}
	}

	fmt.Printf("File: %s\n", configPath)

	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		fmt.Printf("Status: ❌ INVALID\n")
		fmt.Printf("Error: %v\n", err)
		return false
	}

	fmt.Println("Status: ✅ VALID")
	fmt.Println()
	fmt.Println("Loaded Configuration:")
	fmt.Printf("  Server URL:           %s\n", cfg.Server.URL)
	fmt.Printf("  Search Workers:       %d\n", cfg.Search.Workers)
	fmt.Printf("  Search Max Nonce:     %d\n", cfg.Search.MaxNonce)
	fmt.Printf("  Poll Interval:        %v\n", cfg.Network.PollInterval)
	fmt.Printf("  Request Timeout:      %v\n", cfg.Network.RequestTimeout)
	fmt.Printf("  Logging Level:        %s\n", cfg.Logging.Level)
	fmt.Printf("  Logging Format:       %s\n", cfg.Logging.Format)

	return true
}

func validateServerConfig(configPath string) bool {
	fmt.Println("Server Configuration")
	fmt.Println("--------------------")

	if configPath == "" {
		// Search for config file
		configPath = findConfigFile("server-config.yaml")
		if configPath == "" {
			fmt.Println("Status: ⚠️  No config file found (will use defaults)")
			fmt.Println("Search paths:")
			fmt.Println("  - ./server-config.yaml")
			fmt.Println("  - ~/.bmpow/server-config.yaml")
			fmt.Println("  - /etc/bmpow/server-config.yaml")
			return true // Not an error - defaults are valid
		}
	}

	fmt.Printf("File: %s\n", configPath)

	cfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		fmt.Printf("Status: ❌ INVALID\n")
		fmt.Printf("Error: %v\n", err)
		return false
	}

	fmt.Println("Status: ✅ VALID")
	fmt.Println()
	fmt.Println("Loaded Configuration:")
	fmt.Printf("  API Port:             %d\n", cfg.Network.APIPort)
	fmt.Printf("  HTTP Port:            %d\n", cfg.Network.HTTPPort)
	fmt.Printf("  Default Workers:      %d\n", cfg.Pow.DefaultWorkers)
	fmt.Printf("  Max Workers:          %d\n", cfg.Pow.MaxWorkers)
	fmt.Printf("  Max Concurrent Jobs:  %d\n", cfg.Pow.MaxConcurrentJobs)
	fmt.Printf("  Job Retention:        %v\n", cfg.Pow.JobRetention)
	fmt.Printf("  TLS Enabled:          %t\n", cfg.TLS.Enabled)
	if cfg.TLS.Enabled {
		fmt.Printf("  TLS Cert File:        %s\n", cfg.TLS.CertFile)
		fmt.Printf("  TLS Key File:         %s\n", cfg.TLS.KeyFile)
	}
	fmt.Printf("  API Read Timeout:     %v\n", cfg.API.ReadTimeout)
	fmt.Printf("  API Write Timeout:    %v\n", cfg.API.WriteTimeout)
	fmt.Printf("  API Idle Timeout:     %v\n", cfg.API.IdleTimeout)
	fmt.Printf("  Event Log Interval:   %v\n", cfg.Logging.UpdateInterval)
	fmt.Printf("  Event Log File:       %s\n", cfg.Logging.FilePath)

	return true
}

func findConfigFile(filename string) string {
	searchPaths := []string{
		filepath.Join(".", filename),
		filepath.Join(os.Getenv("HOME"), ".bmpow", filename),
		filepath.Join("/etc/bmpow", filename),
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
