package main

import (
	"os"

	"github.com/visionflow/visionflow/cmd/visionflow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
