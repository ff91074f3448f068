package main

import (
	"os"

	"github.com/skypro1111/radio-recorder/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
