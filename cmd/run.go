package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
)

func newRunCmd() *cobra.Command {
	var (
		userID  int
		all     bool
		outDir  string
		encoded bool
		headful bool

		navTimeout  time.Duration
		elemTimeout time.Duration
		maxRetries  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit today's worklog for one stored user or for all of them",
		Long: `Runs the submission immediately, outside the schedule.
Users are addressed by the id shown in "worklog-cli users list".`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if all == (userID > 0) {
				return errors.New("exactly one of --user or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if headful {
				cfg.SetBrowserHeadless(false)
			}
			if navTimeout > 0 {
				cfg.SetNetworkNavigationTimeout(navTimeout)
			}
			if elemTimeout > 0 {
				cfg.SetNetworkElementTimeout(elemTimeout)
			}
			if maxRetries > 0 {
				cfg.SetNetworkMaxRetries(maxRetries)
			}

			ctx := cmd.Context()
			c, err := initializeComponents(ctx, cfg, observability.GetLogger(), false)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			out := cmd.OutOrStdout()
			report := func(res *worklog.Result) error {
				if encoded {
					fmt.Fprint(out, res.Encode())
				} else {
					fmt.Fprint(out, res.Summary())
				}
				if outDir == "" {
					return nil
				}
				paths, err := writeScreenshots(outDir, res)
				for _, p := range paths {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", p)
				}
				return err
			}

			if all {
				return runAll(ctx, out, c.batch, report)
			}

			creds, err := userByID(ctx, c.store, userID)
			if err != nil {
				return err
			}
			res := c.batch.RunOne(ctx, creds)
			if err := report(res); err != nil {
				return err
			}
			if !res.Succeeded() {
				return fmt.Errorf("run %s failed: %s", res.RunID, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&userID, "user", "u", 0, "id of the stored user to run")
	cmd.Flags().BoolVar(&all, "all", false, "run every stored user in turn")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write screenshots into")
	cmd.Flags().BoolVar(&encoded, "encoded", false, "print the full encoded result, screenshots included")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	cmd.Flags().DurationVar(&navTimeout, "navigation-timeout", 0, "override network.navigation_timeout for this run")
	cmd.Flags().DurationVar(&elemTimeout, "element-timeout", 0, "override network.element_timeout for this run")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override network.max_retries for this run")
	return cmd
}

func runAll(ctx context.Context, out io.Writer, batch *worklog.Batch, report func(*worklog.Result) error) error {
	sum, err := batch.RunAll(ctx)
	for _, res := range sum.Results {
		if rerr := report(res); rerr != nil {
			return rerr
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Batch finished: %d succeeded, %d failed, %d skipped of %d.\n",
		sum.Succeeded, sum.Failed, sum.Skipped, sum.Total)
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d runs failed", sum.Failed, sum.Total)
	}
	return nil
}

// userByID resolves a 1-based position in the stored user list.
func userByID(ctx context.Context, cs store.ConfigStore, id int) (worklog.Credentials, error) {
	users, err := cs.LoadAll(ctx)
	if err != nil {
		return worklog.Credentials{}, err
	}
	if id < 1 || id > len(users) {
		return worklog.Credentials{}, fmt.Errorf("no user with id %d (%d stored): %w", id, len(users), store.ErrNotFound)
	}
	return users[id-1], nil
}

// writeScreenshots stores each capture of res as a PNG file in dir.
func writeScreenshots(dir string, res *worklog.Result) ([]string, error) {
	if len(res.Screenshots) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	prefix := res.RunID
	if prefix == "" {
		prefix = "run"
	}
	paths := make([]string, 0, len(res.Screenshots))
	for i, sh := range res.Screenshots {
		p := filepath.Join(dir, fmt.Sprintf("%s-%02d.png", prefix, i))
		if err := os.WriteFile(p, sh.Data, 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
