package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/internal/repository"
	"github.com/spf13/cobra"
)

var listOpts struct {
	action  string
	outcome string
	since   time.Duration
	limit   int
	offset  int
	json    bool
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Inspect the submission audit log",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded submissions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URL == "" {
			return errors.New("database.url is not configured; the audit log is only kept in PostgreSQL")
		}
		ctx := cmd.Context()
		pool, err := repository.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		return listSubmissions(ctx, repository.NewPgSubmissionLogRepository(pool), submissionListOptions(time.Now()), cmd.OutOrStdout(), listOpts.json)
	},
}

func init() {
	f := submissionsListCmd.Flags()
	f.StringVar(&listOpts.action, "action", "", "Only show this action")
	f.StringVar(&listOpts.outcome, "outcome", "", "Only show this outcome (delivered, rejected, captcha_failed, failed)")
	f.DurationVar(&listOpts.since, "since", 0, "Only show submissions newer than this, e.g. 24h")
	f.IntVar(&listOpts.limit, "limit", 50, "Maximum number of rows")
	f.IntVar(&listOpts.offset, "offset", 0, "Rows to skip")
	f.BoolVar(&listOpts.json, "json", false, "Print one JSON object per line")
	submissionsCmd.AddCommand(submissionsListCmd)
}

func submissionListOptions(now time.Time) repository.SubmissionListOptions {
	opts := repository.SubmissionListOptions{
		Action:  listOpts.action,
		Outcome: listOpts.outcome,
		Limit:   listOpts.limit,
		Offset:  listOpts.offset,
	}
	if listOpts.since > 0 {
		opts.Since = now.Add(-listOpts.since)
	}
	return opts
}

type submissionLister interface {
	List(ctx context.Context, opts repository.SubmissionListOptions) ([]*model.SubmissionRecord, error)
}

func listSubmissions(ctx context.Context, repo submissionLister, opts repository.SubmissionListOptions, out io.Writer, asJSON bool) error {
	records, err := repo.List(ctx, opts)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(out)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tACTION\tOUTCOME\tERROR\tDOMAIN\tFILES\tID")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339), rec.Action, rec.Outcome,
			dash(rec.ErrorCode), dash(rec.SenderDomain), rec.AttachmentCount, rec.ID)
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
