// Command tftpd serves files from one directory over TFTP in octet mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Yua17/tftp/internal/config"
	"github.com/Yua17/tftp/internal/journal"
	"github.com/Yua17/tftp/internal/server"
	"github.com/Yua17/tftp/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tftpd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on")
	flag.StringVar(&cfg.Root, "root", cfg.Root, "directory to serve and store files in")
	flag.DurationVar(&cfg.Transfer.Timeout, "timeout", cfg.Transfer.Timeout, "time to wait for each reply")
	flag.IntVar(&cfg.Transfer.BlockRetries, "block-retries", cfg.Transfer.BlockRetries, "attempts per block before giving up (0 retries forever)")
	flag.BoolVar(&cfg.Transfer.AwaitFinalAck, "await-final-ack", cfg.Transfer.AwaitFinalAck, "wait for the acknowledgement of the last block")
	flag.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "postgres URL of the transfer journal (empty disables it)")
	level := flag.String("log-level", cfg.LogLevel.String(), "debug, info, warn or error")
	recent := flag.Int("journal", 0, "print the N most recent transfers from the journal and exit")
	flag.Parse()

	if cfg.LogLevel, err = config.ParseLevel(*level); err != nil {
		return err
	}
	if cfg.Transfer.Timeout <= 0 || cfg.Transfer.BlockRetries < 0 {
		return fmt.Errorf("%w: timeout must be positive and retries not negative", config.ErrInvalidValue)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *recent > 0 {
		return printJournal(ctx, cfg.DatabaseURL, *recent)
	}

	store, err := storage.NewDir(cfg.Root)
	if err != nil {
		return err
	}

	var rec journal.Recorder = journal.Nop{}
	if cfg.DatabaseURL != "" {
		pg, err := journal.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		rec = pg
		log.Info("journal enabled")
	}

	srv := server.New(store,
		server.WithConfig(cfg.Transfer),
		server.WithLogger(log),
		server.WithJournal(rec),
	)
	log.Info("starting", "root", store.Root(), "timeout", cfg.Transfer.Timeout, "block_retries", cfg.Transfer.BlockRetries)
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

func printJournal(ctx context.Context, dsn string, limit int) error {
	if dsn == "" {
		return fmt.Errorf("-journal needs a database (-db or %s)", config.EnvDatabaseURL)
	}
	pg, err := journal.OpenPostgres(ctx, dsn)
	if err != nil {
		return err
	}
	defer pg.Close()

	entries, err := pg.Recent(ctx, limit)
	if err != nil {
		return err
	}
	return journal.Print(os.Stdout, entries)
}
