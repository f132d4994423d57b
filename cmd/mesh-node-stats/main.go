package main

import (
	"os"

	"github.com/monorkin/mesh-node-stats/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
