// Package main provides the cupboard CLI.
package main

import (
	"os"

	"github.com/mesh-intelligence/cupboard-tools/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
