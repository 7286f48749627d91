package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/worklog-cli/internal/observability"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage stored user configurations",
	}
	cmd.AddCommand(newUsersListCmd(), newUsersAddCmd(), newUsersResetCmd(), newUsersScreenshotsCmd())
	return cmd
}

// withStore opens storage for the duration of fn.
func withStore(cmd *cobra.Command, fn func(store.Backend) error) error {
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}
	backend, err := store.Open(cmd.Context(), cfg.Database(), observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()
	return fn(backend)
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored users with masked session tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(b store.Backend) error {
				users, err := b.LoadAll(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(users) == 0 {
					fmt.Fprintln(out, "No users configured.")
					return nil
				}
				fmt.Fprintf(out, "%-4s %-12s %s\n", "ID", "SESSION", "TASKS")
				for i, u := range users {
					fmt.Fprintf(out, "%-4d %-12s %s\n", i+1, u.MaskedKey(), preview(u.Tasks, 60))
				}
				return nil
			})
		},
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}

func newUsersAddCmd() *cobra.Command {
	var (
		from  string
		creds worklog.Credentials
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a user configuration, replacing one with the same session token",
		Long: `Reads the configuration from a JSON file (or "-" for stdin) in the same
shape the API accepts, or from flags. Prefer the file: flags end up in shell history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if from != "" {
				if creds, err = readCredentials(cmd.InOrStdin(), from); err != nil {
					return err
				}
			}
			if err := creds.Validate(); err != nil {
				return err
			}
			creds = creds.WithDefaults(cfg.Worklog().Defaults)

			return withStore(cmd, func(b store.Backend) error {
				if err := b.Save(cmd.Context(), creds); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved for %s.\n", creds.MaskedKey())
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVarP(&from, "from", "f", "", `JSON file with the configuration, "-" for stdin`)
	f.StringVar(&creds.AuthSessionID, "auth-session-id", "", "AUTH_SESSION_ID cookie value")
	f.StringVar(&creds.AuthSessionIDLegacy, "auth-session-id-legacy", "", "AUTH_SESSION_ID_LEGACY cookie value")
	f.StringVar(&creds.KeycloakIdentity, "keycloak-identity", "", "KEYCLOAK_IDENTITY cookie value")
	f.StringVar(&creds.KeycloakIdentityLegacy, "keycloak-identity-legacy", "", "KEYCLOAK_IDENTITY_LEGACY cookie value")
	f.StringVar(&creds.KeycloakSession, "keycloak-session", "", "KEYCLOAK_SESSION cookie value")
	f.StringVar(&creds.KeycloakSessionLegacy, "keycloak-session-legacy", "", "KEYCLOAK_SESSION_LEGACY cookie value")
	f.StringVar(&creds.Tasks, "tasks", "", "tasks completed text")
	f.StringVar(&creds.Challenges, "challenges", "", "challenges text")
	f.StringVar(&creds.Blockers, "blockers", "", "blockers text")
	cmd.MarkFlagsMutuallyExclusive("from", "auth-session-id")
	return cmd
}

func readCredentials(stdin io.Reader, path string) (worklog.Credentials, error) {
	var creds worklog.Credentials
	r := stdin
	if path != "-" {
		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return creds, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&creds); err != nil {
		return creds, fmt.Errorf("invalid configuration JSON: %w", err)
	}
	return creds, nil
}

func newUsersResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored user and their screenshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all users without --yes")
			}
			return withStore(cmd, func(b store.Backend) error {
				n, err := b.Count(cmd.Context())
				if err != nil {
					return err
				}
				if err := b.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d user configuration(s).\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}

func newUsersScreenshotsCmd() *cobra.Command {
	var (
		limit  int
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "screenshots ID",
		Short: "List a user's most recent screenshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("user id must be a positive integer, got %q", args[0])
			}
			return withStore(cmd, func(b store.Backend) error {
				creds, err := userByID(cmd.Context(), b, id)
				if err != nil {
					return err
				}
				shots, err := b.Recent(cmd.Context(), creds.Key(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(shots) == 0 {
					fmt.Fprintln(out, "No screenshots stored.")
					return nil
				}
				for _, sh := range shots {
					line := fmt.Sprintf("%-6d %s  %-40s %d bytes", sh.ID, sh.CreatedAt.Local().Format("2006-01-02 15:04:05"), sh.Description, len(sh.Data))
					if outDir != "" {
						p, err := writeStoredScreenshot(outDir, id, sh)
						if err != nil {
							return err
						}
						line += "  -> " + p
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultRecentLimit, "how many screenshots to list")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write the PNG files into")
	return cmd
}

func writeStoredScreenshot(dir string, user int, sh store.Screenshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	p := filepath.Join(dir, fmt.Sprintf("user%d-%06d.png", user, sh.ID))
	if err := os.WriteFile(p, sh.Data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", p, err)
	}
	return p, nil
}
