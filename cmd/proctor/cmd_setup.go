package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/proctor/internal/config"
)

// cmdInit creates the proctor directory and a default configuration
func cmdInit() error {
	fmt.Println("Proctor - First-Time Setup")
	fmt.Println("==========================")
	fmt.Println()

	fmt.Print("Creating proctor directory structure... ")
	dir, err := config.EnsureProctorDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.SaveLocalConfig(dir, config.DefaultLocalConfig(dir)); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Put test definitions (.yaml or .json) in %s\n", filepath.Join(dir, "tests"))
	fmt.Println("  2. proctor tests list     # Check they load")
	fmt.Println("  3. proctor mcp            # Serve deliveries over MCP")
	fmt.Println()
	fmt.Println("For multi-node setups, set storage.driver to sqlite, backup_driver to")
	fmt.Printf("postgres and queue.driver to rabbitmq; connection strings go in %s.\n", filepath.Join(dir, "secrets.yaml"))

	return nil
}

// cmdConfig prints the effective configuration
func cmdConfig() error {
	dir, err := config.ProctorDir()
	if err != nil {
		return err
	}
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	fmt.Printf("# %s\n", filepath.Join(dir, "config.yaml"))
	fmt.Print(string(data))
	fmt.Println()
	fmt.Printf("postgres_url: %s\n", configured(cfg.Storage.PostgresURL))
	fmt.Printf("rabbitmq_url: %s\n", configured(cfg.Queue.URL))
	return nil
}

func configured(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	return "(set)"
}
