// Package main is the entry point for the EventScrape worker service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/bootstrap"
	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/config"
)

// version can be set at build time via -ldflags
var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", config.GetConfigPath("config.yml"), "Path to configuration file")
	flag.Parse()

	if err := bootstrap.RunWorker(bootstrap.Options{
		ConfigPath: configPath,
		Version:    version,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start worker: %v\n", err)
		os.Exit(1)
	}
}
