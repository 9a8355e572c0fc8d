package main

import (
	"os"

	"github.com/wavetp/kgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
