package main

import (
	"os"

	"sunset/cmd/sunset-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
