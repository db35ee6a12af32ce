package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit()
	case "config":
		err = cmdConfig()
	case "tests":
		err = cmdTests(os.Args[2:])
	case "mcp":
		err = cmdMCP()
	case "serve":
		err = cmdServe()
	case "worker":
		err = cmdWorker()
	case "restore":
		err = cmdRestore(os.Args[2:])
	case "backups":
		err = cmdBackups(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("proctor %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Proctor - Test delivery with navigation and recovery

Usage:
  proctor <command> [arguments]

Setup Commands:
  init                  Create ~/.proctor with a default configuration
  config                Show current configuration

Test Commands:
  tests list            List available tests
  tests validate <file> Check a test definition file
  tests stats <id>      Show the structure of a test

Delivery Commands:
  mcp                   Start MCP server on stdio
  serve                 Start the HTTP delivery API
  restore <id>...       Rebuild deliveries from their backups
  restore --all         Rebuild every known delivery
  backups <user-id>     List the state backups kept for a user
  worker                Consume backup cleanup tasks from RabbitMQ

Other:
  help                  Show this help message
  version               Show version information

Environment:
  PROCTOR_HOME          Configuration directory (default: ~/.proctor)
  PROCTOR_*             Override configuration keys, e.g. PROCTOR_STORAGE_DRIVER

Examples:
  proctor init
  proctor tests validate ./math-101.yaml
  proctor mcp
  PROCTOR_PORT=8080 proctor serve
  proctor restore 0b5a9f0e-4c1d-4c59-9a51-2f1f7c3e8d11`)
}
