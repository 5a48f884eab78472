// Package main runs the escrow service daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/escrow_service/internal/app/runtime"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("load env (%s): %v", *envFile, err)
	}

	app, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}

	if err := app.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
