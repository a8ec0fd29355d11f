// Command ragcore is the entry point for the retrieval and caching core.
// It provides a CLI (via Cobra) for ingestion, search, chat and image
// generation, and an HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/ragcore-go/cmd/ragcore/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
