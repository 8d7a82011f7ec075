package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/dotcommander/lerim/internal/commands"
)

// version is set via ldflags: -X main.version=v1.0.0
var version = "dev"

func main() {
	// Best effort: a missing .env is the normal case.
	_ = godotenv.Load()

	os.Exit(commands.Execute(version))
}
