package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/courierd/internal/client"
	"github.com/danmuck/courierd/internal/logging"
)

func main() {
	configPath := flag.String("config", "courier.toml", "path to the courier config file")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "courierctl: %v\n", err)
		os.Exit(1)
	}

	svc, err := client.NewService(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "courierctl: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		if errors.Is(err, client.ErrLoggedOut) {
			fmt.Fprintln(os.Stderr, "courierctl: logged out by server; delete the auth directory and pair again")
		}
		fmt.Fprintf(os.Stderr, "courierctl: %v\n", err)
		os.Exit(1)
	}
}
