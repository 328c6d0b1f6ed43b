// Command gcompute runs GPU compute jobs described in YAML files.
package main

import (
	"os"

	"github.com/gogpu/gcompute/cmd/gcompute/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
