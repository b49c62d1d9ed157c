package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kjannette/cowtrader/internal/blob"
	"github.com/kjannette/cowtrader/internal/scheduler"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload one snapshot of the ledgers to S3",
	RunE:  runArchive,
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if cfg.S3Bucket == "" {
		return errors.New("S3_BUCKET is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, pool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	writer, err := blob.NewS3Writer(ctx, blob.Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return err
	}

	res, err := scheduler.NewArchiveScheduler(store, writer, scheduler.ArchiveConfig{Prefix: cfg.S3Prefix}).ArchiveNow(ctx)
	if err != nil {
		return err
	}
	for _, k := range res.Keys {
		log.Info().Str("component", "scheduler").Str("bucket", writer.Bucket()).Str("key", k).Msg("uploaded")
	}
	return nil
}
