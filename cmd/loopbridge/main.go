// Command loopbridge runs a main context driven by a reactor loop.
package main

import (
	"os"

	"github.com/joeycumines/go-loopbridge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
