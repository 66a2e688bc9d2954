// Command transact-status serves the read-only transaction status API over
// the store selected by the environment (see transact.EnvConfig).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LerianStudio/lib-transact/transact"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	transact.InitLocalEnvConfig()

	cfg, err := transact.LoadEnvConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := transact.Setup(ctx, cfg)
	if err != nil {
		return err
	}

	serveErr := rt.Serve(ctx)

	if err := rt.Close(context.WithoutCancel(ctx)); err != nil && serveErr == nil {
		return err
	}

	return serveErr
}
