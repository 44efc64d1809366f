package main

import (
	"context"
	"os"

	"github.com/andrei-cloud/plugin_runner/internal/commands/cli"
)

// main runs the host and exits with the script's status.
func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
