// Package main is the entry point for the billscan CLI.
package main

import (
	"os"

	"github.com/billscan/billscan/cmd/billscan/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
