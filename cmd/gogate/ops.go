package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/killswitch"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/principal"
	"github.com/MrEthical07/goGate/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var tenantID string

// -------- SESSIONS --------

var purgeSessionsCmd = &cobra.Command{
	Use:   "purge-sessions",
	Short: "Delete expired sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSessions(cmd.Context(), func(ctx context.Context, _ goGate.Config, _ redis.UniversalClient, s *session.Store) error {
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired sessions\n", n)
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions and flip the sessions-stopped flag",
}

var sessionsStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Reject every request until sessions are started again",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSwitch(cmd.Context(), func(ctx context.Context, k *killswitch.Redis) error {
			if err := k.Stop(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sessions stopped")
			return nil
		})
	},
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Clear the sessions-stopped flag",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSwitch(cmd.Context(), func(ctx context.Context, k *killswitch.Redis) error {
			if err := k.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sessions started")
			return nil
		})
	},
}

var sessionsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the sessions-stopped flag is set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSwitch(cmd.Context(), func(ctx context.Context, k *killswitch.Redis) error {
			stopped, err := k.Stopped(ctx)
			if err != nil {
				return err
			}
			state := "running"
			if stopped {
				state = "stopped"
			}
			fmt.Fprintln(cmd.OutOrStdout(), state)
			return nil
		})
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list PRINCIPAL",
	Short: "List the live sessions of a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessions(cmd.Context(), func(ctx context.Context, _ goGate.Config, _ redis.UniversalClient, s *session.Store) error {
			list, err := s.ListForPrincipal(ctx, tenantID, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SID\tDEVICE\tIP\tLAST ACTIVITY\tEXPIRES")
			for _, sess := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					sess.ID, sess.Device, sess.IP,
					sess.LastActivity.Format(time.RFC3339), sess.ExpiresAt.Format(time.RFC3339))
			}
			return tw.Flush()
		})
	},
}

func withRedisConfig(ctx context.Context, fn func(context.Context, goGate.Config, redis.UniversalClient) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rdb, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	return fn(ctx, cfg, rdb)
}

func withSessions(ctx context.Context, fn func(context.Context, goGate.Config, redis.UniversalClient, *session.Store) error) error {
	return withRedisConfig(ctx, func(ctx context.Context, cfg goGate.Config, rdb redis.UniversalClient) error {
		s := session.NewStore(rdb, session.Config{Prefix: cfg.Session.RedisPrefix})
		return fn(ctx, cfg, rdb, s)
	})
}

func withSwitch(ctx context.Context, fn func(context.Context, *killswitch.Redis) error) error {
	return withRedisConfig(ctx, func(ctx context.Context, cfg goGate.Config, rdb redis.UniversalClient) error {
		return fn(ctx, killswitch.NewRedis(rdb, cfg.Maintenance.RedisFlagKey))
	})
}

// -------- AUTHENTICATION LOG --------

var olderThan time.Duration

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and prune the authentication log",
}

var auditPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete authentication events older than --older-than",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		db, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		n, err := db.PurgeBefore(cmd.Context(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", n)
		return nil
	},
}

var auditLimit int

var auditListCmd = &cobra.Command{
	Use:   "list PRINCIPAL",
	Short: "Show recent authentication events for a principal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		events, err := db.Events(cmd.Context(), tenantID, args[0], auditLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tOPERATION\tOUTCOME\tREASON\tIP")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.Operation, ev.Outcome, ev.Reason, ev.IP)
		}
		return tw.Flush()
	},
}

// -------- PRINCIPALS --------

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash a password read from stdin with the configured parameters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		secret, err := readSecret(cmd)
		if err != nil {
			return err
		}
		hasher, err := password.NewHasher(cfg.Password)
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(secret)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var (
	userKind     string
	userDisabled bool
	userFields   []string
	userPassword bool
)

var userSetCmd = &cobra.Command{
	Use:   "user-set ID",
	Short: "Create or replace a principal",
	Long: `user-set writes a full principal row. Extra fields are given as
--field name=value, for example --field first_name=Alice --field
restrict_ip=10.0.0.0/8. With --password the password is read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kind := principal.ParseKind(userKind)
		if kind != principal.KindSystemUser && kind != principal.KindWebsiteUser {
			return fmt.Errorf("kind must be System User or Website User, got %q", userKind)
		}
		f := principal.Fields{
			principal.FieldKind:    kind.String(),
			principal.FieldEnabled: principal.FormatBool(!userDisabled),
		}
		for _, kv := range userFields {
			name, value, found := strings.Cut(kv, "=")
			if !found || !principal.KnownField(name) {
				return fmt.Errorf("bad --field %q", kv)
			}
			f[name] = value
		}
		if userPassword {
			secret, err := readSecret(cmd)
			if err != nil {
				return err
			}
			hasher, err := password.NewHasher(cfg.Password)
			if err != nil {
				return err
			}
			if f[principal.FieldPasswordHash], err = hasher.Hash(secret); err != nil {
				return err
			}
		}

		db, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		return db.Upsert(cmd.Context(), args[0], f)
	},
}

func readSecret(cmd *cobra.Command) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			fmt.Fprint(cmd.ErrOrStderr(), "password: ")
		}
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id")
	sessionsCmd.AddCommand(sessionsStopCmd, sessionsStartCmd, sessionsStatusCmd, sessionsListCmd)

	auditPurgeCmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention window")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events shown")
	auditCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id")
	auditCmd.AddCommand(auditPurgeCmd, auditListCmd)

	userSetCmd.Flags().StringVar(&userKind, "kind", principal.KindWebsiteUser.String(), "System User or Website User")
	userSetCmd.Flags().BoolVar(&userDisabled, "disabled", false, "create the principal disabled")
	userSetCmd.Flags().StringArrayVar(&userFields, "field", nil, "extra field as name=value (repeatable)")
	userSetCmd.Flags().BoolVar(&userPassword, "password", false, "read a password from stdin")

	rootCmd.AddCommand(purgeSessionsCmd, sessionsCmd, auditCmd, hashPasswordCmd, userSetCmd)
}
