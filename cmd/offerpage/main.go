package main

import (
	"os"

	"github.com/offerpage/offerpage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
