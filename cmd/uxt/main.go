package main

import (
	"os"

	"github.com/uxtest/uxtest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
