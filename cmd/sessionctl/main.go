package main

import (
	"os"

	"github.com/utafrali/storefront/cmd/sessionctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
