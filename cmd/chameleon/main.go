package main

import (
	"fmt"
	"os"

	"github.com/lsm/chameleon/internal/cli"
)

const usage = `chameleon - Chameleon destination transformer

Usage:
  chameleon <command> [arguments]

Commands:
  serve       Run the transform service
  transform   Transform events from a file or inline JSON (dry run)
  validate    Validate a service configuration file

Run 'chameleon <command> -h' for help on a specific command.`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return cli.RunServe(os.Args[2:])
	case "transform":
		return cli.RunTransform(os.Args[2:], nil)
	case "validate":
		return cli.RunValidate(os.Args[2:], nil)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\nRun 'chameleon help' for usage", os.Args[1])
	}
}
