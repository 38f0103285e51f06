package main

import (
	"os"

	"github.com/robotsgofarming/abls/cmd/boomctl/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
