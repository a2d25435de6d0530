// Package main is the entry point for the eventscrapectl operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/ctl"
)

// version can be set at build time via -ldflags
var version = "dev"

func main() {
	if err := ctl.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
