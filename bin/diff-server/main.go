package main

import (
	"context"
	"log"
	"mockup-check/internal/config"
	"mockup-check/internal/logging"
	"mockup-check/internal/runnable"
	"os"
)

func main() {
	logger, err := logging.New(os.Stderr, config.EnvOrDefaultValue("LOG_FORMAT", logging.FormatJSON))
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	c, err := config.Load(config.EnvOrDefaultValue("CONFIG", ""))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		log.Fatalf("THRESHOLD must be between 0 and 1: %v", c.Threshold)
	}
	diffOptions, err := c.DiffOptions()
	if err != nil {
		log.Fatalf("Invalid comparison options: %v", err)
	}

	server := runnable.NewServer(logger, c.Threshold, diffOptions...)
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
