// Command tftp is an interactive TFTP client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/Yua17/tftp/internal/client"
	"github.com/Yua17/tftp/internal/config"
	"github.com/Yua17/tftp/internal/shell"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tftp:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "server address (host:port)")
	flag.DurationVar(&cfg.Transfer.Timeout, "timeout", cfg.Transfer.Timeout, "time to wait for each reply")
	flag.IntVar(&cfg.Transfer.RequestRetries, "retries", cfg.Transfer.RequestRetries, "request attempts before giving up")
	flag.BoolVar(&cfg.Transfer.AwaitFinalAck, "await-final-ack", cfg.Transfer.AwaitFinalAck, "wait for the acknowledgement of the last block")
	level := flag.String("log-level", cfg.LogLevel.String(), "debug, info, warn or error")
	flag.Parse()

	if cfg.LogLevel, err = config.ParseLevel(*level); err != nil {
		return err
	}
	if cfg.Transfer.Timeout <= 0 || cfg.Transfer.RequestRetries < 0 {
		return fmt.Errorf("%w: timeout must be positive and retries not negative", config.ErrInvalidValue)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	c, err := client.New(cfg.ServerAddr, client.WithConfig(cfg.Transfer), client.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	// A second interrupt while waiting for input kills the process.
	context.AfterFunc(ctx, stop)

	fmt.Printf("tftp: server %s, type \"help\" for commands\n", c.Server())
	err = shell.New(c, os.Stdin, os.Stdout, shell.WithLogger(log)).Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
