package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/treonstudio/chatuploads/internal/models"
	"github.com/treonstudio/chatuploads/internal/repository"
	"github.com/treonstudio/chatuploads/internal/uploads"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the durable upload queue",
	}

	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueuePurgeCommand(ctx))

	return queueCmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted queue entries without modifying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			repos, err := openRepositories(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repos.Close()

			entries, err := loadEntries(cmd.Context(), repos.QueueState, cfg.QueueKey)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			now := time.Now()
			fmt.Fprintln(cmd.OutOrStdout(), renderEntries(entries, now))
			if info, err := repos.QueueState.Info(cmd.Context(), cfg.QueueKey); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %s, last written %s\n",
					humanize.Bytes(uint64(info.Size)), humanize.RelTime(info.UpdatedAt, now, "ago", "from now"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output entries as JSON")
	return cmd
}

func newQueuePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Run startup reconciliation offline, dropping entries whose payload is gone",
		Long: "Payloads live only in the memory of the serving process, so every persisted entry\n" +
			"is an orphan once that process is gone. The command refuses to run while a server owns\n" +
			"the data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			lock, err := acquireLock(cfg.DataDir)
			if err != nil {
				return err
			}
			defer lock.Unlock()

			repos, err := openRepositories(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repos.Close()

			opts, err := newManagerOptions(cfg, logger)
			if err != nil {
				return err
			}
			manager, err := uploads.Open(cmd.Context(), repos.QueueState, opts)
			if err != nil {
				return err
			}
			closeCtx, cancel := context.WithTimeout(cmd.Context(), cfg.ShutdownTimeout)
			defer cancel()
			if err := manager.Close(closeCtx); err != nil {
				logger.Warn("orphan notification abandoned", "error", err)
			}

			result := manager.StartupResult()
			if result.LoadError != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Queue was unreadable and has been reset: %s\n", result.LoadError)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d orphaned upload(s)\n", result.Purged)
			return nil
		},
	}
}

func loadEntries(ctx context.Context, repo repository.QueueStateRepository, key string) ([]models.QueueEntry, error) {
	data, err := repo.Load(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return uploads.DecodeQueueState(data)
}

func renderEntries(entries []models.QueueEntry, now time.Time) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Chat", "File", "Size", "Status", "Progress", "Retries", "Age"})

	for _, e := range entries {
		chat := e.ChatID
		if e.IsGroupChat {
			chat += " (group)"
		}
		tw.AppendRow(table.Row{
			e.ID,
			chat,
			e.FileName,
			humanize.Bytes(uint64(max(e.FileSize, 0))),
			string(e.Status),
			strconv.Itoa(e.Progress) + "%",
			e.RetryCount,
			humanize.RelTime(e.CreatedAt, now, "ago", "from now"),
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(entries)})
	return tw.Render()
}
