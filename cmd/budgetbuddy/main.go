package main

import (
	"context"
	"os"

	"budgetbuddy/internal/cli"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], cli.StdStreams(), version))
}
