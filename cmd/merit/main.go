package main

import (
	"os"

	"github.com/wonny/meritorder/cmd/merit/commands"
)

// main is the entry point for the merit CLI
// ⭐ 통합 CLI 진입점: go run ./cmd/merit [command]
func main() {
	if err := commands.Execute(); err != nil {
		commands.PrintFailure(err)
		os.Exit(1)
	}
}
