package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paperquery/paperquery/internal/config"
	"github.com/paperquery/paperquery/internal/database"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "paperquery: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paperquery",
		Short: "PaperQuery development CLI",
		Long: `Drives the local development stack: the Postgres/pgvector, Redis and MinIO
services, the database schema, the test suite, and the server and worker
binaries.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "compose file for stack commands")
	cmd.AddCommand(newStackCmd(), newMigrateCmd(), newTestCmd(), newRunCmd())
	return cmd
}

// newStackCmd wraps docker compose. The subcommands only save typing the
// compose flags; anything they don't cover goes through docker compose
// directly.
func newStackCmd() *cobra.Command {
	stack := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose services",
	}
	subs := []struct {
		use   string
		short string
		args  []string
	}{
		{"up", "Build and start every service in the background", []string{"up", "--build", "-d"}},
		{"down", "Stop the services", []string{"down"}},
		{"reset", "Stop the services and drop their volumes", []string{"down", "-v"}},
		{"logs", "Stream service logs", []string{"logs", "-f"}},
		{"ps", "Show service status", []string{"ps"}},
	}
	for _, sub := range subs {
		composeArgs := sub.args
		stack.AddCommand(&cobra.Command{
			Use:   sub.use + " [service...]",
			Short: sub.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				full := append([]string{"compose", "-f", composeFile}, composeArgs...)
				return runCommand(cmd.Context(), "docker", append(full, args...)...)
			},
		})
	}
	return stack
}

// newMigrateCmd applies the embedded schema without starting either binary,
// for pointing a fresh database at the stack or after changing the embedding
// dimension.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := database.EnsureSchema(cmd.Context(), cfg.DatabaseURL, cfg.EmbedDim); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [go test args]",
		Short: "Run the test suite (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"./..."}
			}
			return runCommand(cmd.Context(), "go", append([]string{"test"}, args...)...)
		},
	}
}

func newRunCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Run a binary against the local stack",
	}
	for _, svc := range []string{"server", "worker"} {
		path := "./cmd/" + svc
		run.AddCommand(&cobra.Command{
			Use:   svc,
			Short: "go run " + path,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return run
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
