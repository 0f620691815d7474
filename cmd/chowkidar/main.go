package main

import (
	"context"
	"log"
	"os"

	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/internal/cli"
)

func main() {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	os.Exit(cli.Main(context.Background(), &cli.Env{
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, os.Args[1:]))
}
