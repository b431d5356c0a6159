package main

import (
	"os"

	"github.com/clinprecision/ctms-forms/cmd/ctms-forms/commands"
)

// Version is stamped into release builds; keep it in step with the git tag.
const Version = "v1.0.0"

func main() {
	commands.SetVersion(Version)

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
