// Package cli is the operator command line for the board.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/config"
	"github.com/d60-Lab/board/internal/sms"
	"github.com/d60-Lab/board/pkg/database"
	"github.com/d60-Lab/board/pkg/logger"
	"github.com/d60-Lab/board/pkg/tracing"
)

// RootOptions holds global flags and the wired application.
type RootOptions struct {
	ConfigPath string
	As         string // 以该 uid 的身份执行
	Format     string

	app     *App
	closers []func(context.Context) error
}

func (o *RootOptions) printer(cmd *cobra.Command) printer {
	return printer{format: o.Format, w: cmd.OutOrStdout()}
}

// setup 加载配置并打开存储；测试里 app 已注入时跳过
func (o *RootOptions) setup(ctx context.Context) error {
	if o.app != nil {
		return nil
	}
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := logger.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}

	shutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	o.closers = append(o.closers, shutdown)

	st, err := database.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	o.closers = append(o.closers, func(context.Context) error { return st.Close() })

	sender := sms.NewThrottled(sms.LogSender{From: cfg.SMS.From}, cfg.SMS.RatePerSecond, cfg.SMS.Burst, true)
	o.app = NewApp(st.Open, cfg, sender)
	o.app.Sweep = st.Sweep
	return nil
}

// Close 按打开的逆序释放资源
func (o *RootOptions) Close(ctx context.Context) {
	for _, c := range lo.Reverse(o.closers) {
		if err := c(ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
	o.closers = nil
	logger.Sync()
}

// NewRootCommand creates the root command for the board CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "board",
		Short:         "Community board operator tool",
		Long:          "Manage posts, accounts, logins and bans of a community board store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !lo.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.setup(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "act as this account uid")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newPostCommand(opts))
	cmd.AddCommand(newReplyCommand(opts))
	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newBanCommand(opts))
	cmd.AddCommand(newAccountCommand(opts))
	cmd.AddCommand(newMuteCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	opts.Close(context.Background())
	if err != nil {
		reportError(stderr, opts.Format, err)
		return ExitCode(err)
	}
	return ExitSuccess
}

// Main is Execute over the process arguments and standard streams.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
