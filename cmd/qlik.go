package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qlik-mcp/internal/observability"
	"github.com/xkilldash9x/qlik-mcp/internal/service"
	"github.com/xkilldash9x/qlik-mcp/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withComponents builds the component graph, runs fn and always stops the
// browser session afterwards.
func withComponents(cmd *cobra.Command, fn func(ctx context.Context, c *service.Components) error) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	components, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if err := fn(ctx, components); err != nil {
		logger.Debug("Command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func newAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apps [app-id]",
		Short: "List applications, or show one application by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				if len(args) == 1 {
					app, err := c.Qlik.GetApp(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, app)
				}
				apps, err := c.Qlik.ListApps(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, apps)
			})
		},
	}
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List reload tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				tasks, err := c.Qlik.ListTasks(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, tasks)
			})
		},
	}
}

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show execution history for a reload task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				logs, err := c.Qlik.GetTaskLogs(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, logs)
			})
		},
	}
}

func newScriptCmd() *cobra.Command {
	scriptCmd := &cobra.Command{
		Use:   "script",
		Short: "Read or replace an application's load script",
	}

	getCmd := &cobra.Command{
		Use:   "get <app-id>",
		Short: "Print the load script of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				script, err := c.Qlik.GetScript(ctx, args[0])
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), script.Script)
				return err
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <app-id>",
		Short: "Replace the load script of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			save, _ := cmd.Flags().GetBool("save")

			script, err := readScript(cmd, file)
			if err != nil {
				return err
			}
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				update, err := c.Qlik.SetScript(ctx, args[0], script, save)
				if err != nil {
					return err
				}
				return printJSON(cmd, update)
			})
		},
	}
	setCmd.Flags().StringP("file", "f", "-", "file holding the new script, - for stdin")
	setCmd.Flags().Bool("save", false, "persist the application after replacing the script")

	scriptCmd.AddCommand(getCmd, setCmd)
	return scriptCmd
}

func readScript(cmd *cobra.Command, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "" || file == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Start a session and report its health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				if err := c.Manager.Start(ctx); err != nil {
					return err
				}
				healthy := c.Manager.HealthCheck(ctx)
				return printJSON(cmd, struct {
					session.Status
					Healthy bool `json:"healthy"`
				}{c.Manager.Status(), healthy})
			})
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show Qlik Sense repository build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *service.Components) error {
				about, err := c.Qlik.About(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, about)
			})
		},
	}
}
