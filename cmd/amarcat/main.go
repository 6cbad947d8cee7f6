// Command amarcat packs, lists, and extracts AMAR archives.
package main

import (
	"os"

	"github.com/stefangweichinger/amar/cmd/amarcat/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Stdout, os.Stderr, os.Args))
}
