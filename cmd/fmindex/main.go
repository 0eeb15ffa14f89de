// Package main provides the entry point for the fmindex CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/fmindex/cmd/fmindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
