package main

import (
	"os"

	"github.com/flexquest/flexquest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
