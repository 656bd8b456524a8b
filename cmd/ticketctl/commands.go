package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-sync/internal/auth"
	"github.com/spec-kit/ticket-sync/internal/config"
	"github.com/spec-kit/ticket-sync/internal/domain"
	"github.com/spec-kit/ticket-sync/internal/queue"
)

type options struct {
	dbPath string
	asJSON bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "ticketctl",
		Short: "Inspect and repair the local mutation queue",
		Long: `ticketctl works directly on the queue database of ticketsyncd.

Stop the daemon before retrying or discarding mutations, or use the
daemon's /sync endpoints instead, so both do not edit the queue at once.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "queue database path (default $QUEUE_DB_PATH or ~/.ticketsync/queue.db)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(
		newListCmd(opts, "pending", "List mutations waiting for the remote store", (*queue.Queue).ListPending),
		newListCmd(opts, "fatal", "List mutations parked for manual intervention", (*queue.Queue).ListFatal),
		newRetryCmd(opts),
		newDiscardCmd(opts),
		newScheduleCmd(),
		newTokenCmd(),
	)
	return root
}

func newListCmd(opts *options, use, short string, list func(*queue.Queue) []domain.PendingMutation) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(q *queue.Queue) error {
				return printMutations(cmd.OutOrStdout(), list(q), opts.asJSON)
			})
		},
	}
}

func newRetryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <mutation-id>",
		Short: "Return a fatal mutation to the pending state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(q *queue.Queue) error {
				m, err := q.Retry(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("retry %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mutation %s on %s/%s is pending again\n", m.ID, m.EntityType, m.TargetID)
				return nil
			})
		},
	}
}

func newDiscardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <mutation-id>",
		Short: "Drop a fatal mutation for good",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), opts, func(q *queue.Queue) error {
				m, err := q.Discard(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("discard %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "mutation %s on %s/%s discarded\n", m.ID, m.EntityType, m.TargetID)
				return nil
			})
		},
	}
}

func newScheduleCmd() *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the retry delays the configured backoff produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			policy := queue.RetryPolicy{
				Base:       cfg.Sync.BackoffBase(),
				Multiplier: cfg.Sync.BackoffMultiplier,
				Cap:        cfg.Sync.BackoffCap(),
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FAILURES\tDELAY\tJITTER")
			for i := 1; i <= attempts; i++ {
				d := policy.Delay(i)
				spread := time.Duration(float64(d) * cfg.Sync.BackoffJitter)
				fmt.Fprintf(w, "%d\t%s\t±%s\n", i, d, spread)
			}
			fmt.Fprintf(w, "unknown failures before fatal: %d\n", cfg.Sync.MaxUnknownAttempts)
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 8, "number of consecutive failures to show")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the daemon's HTTP interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			actor := domain.Actor{UserID: strings.TrimSpace(userID), Role: domain.UserRole(strings.ToUpper(role))}
			if actor.UserID == "" || !actor.Role.Valid() {
				return fmt.Errorf("--user and a valid --role (ADMIN, TECHNICIAN, REQUESTER) are required")
			}
			token, expiresAt, err := auth.NewTokenManager(cfg.Auth.JWTSecret, ttl).GenerateToken(actor)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token acts as")
	cmd.Flags().StringVar(&role, "role", string(domain.UserRoleTechnician), "ADMIN, TECHNICIAN or REQUESTER")
	cmd.Flags().IntVar(&ttl, "ttl", 60, "lifetime in minutes")
	return cmd
}

func withQueue(ctx context.Context, opts *options, fn func(*queue.Queue) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	path := opts.dbPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Queue.DBPath
	}
	store, err := queue.OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("open queue %s: %w", path, err)
	}
	q, err := queue.Open(ctx, store)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer q.Close()
	return fn(q)
}

func printMutations(out io.Writer, ms []domain.PendingMutation, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ms)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tTARGET\tKIND\tRETRIES\tNEXT ATTEMPT\tLAST ERROR")
	for _, m := range ms {
		lastErr := ""
		if m.LastError != nil {
			lastErr = *m.LastError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.EntityType, m.TargetID, m.Kind, m.RetryCount,
			m.NextAttemptAt.UTC().Format(time.RFC3339), lastErr)
	}
	return w.Flush()
}
