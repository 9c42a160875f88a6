// Package main provides the entry point for the knosid server.
package main

import (
	"os"

	"github.com/knosi-ai/knosid/cmd/knosid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
