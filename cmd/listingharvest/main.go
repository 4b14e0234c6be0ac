package main

import (
	"os"

	"github.com/BenjaminSRussell/listingharvest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
