package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/metrics"
	"github.com/d60-Lab/board/internal/service"
	"github.com/d60-Lab/board/pkg/logger"
)

// newServeCommand 常驻进程：/metrics 监听与过期清理，直到收到信号
func newServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metrics listener and the expiry sweeper until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = opts.app.Config.Metrics.Addr
			}
			if addr != "" {
				srv, err := metrics.Serve(addr)
				if err != nil {
					return err
				}
				opts.closers = append(opts.closers, srv.Shutdown)
			}

			if opts.app.Sweep != nil {
				sweeper := service.NewExpirySweeper(opts.app.Sweep, interval)
				stop := sweeper.Start()
				opts.closers = append(opts.closers, stop)
				go func() {
					for {
						select {
						case n := <-sweeper.Metrics():
							metrics.ExpiredSwept.Add(float64(n))
						case <-ctx.Done():
							return
						}
					}
				}()
			}

			logger.Info("board serving", zap.String("metrics", addr), zap.Bool("sweeper", opts.app.Sweep != nil))
			<-ctx.Done()
			logger.Info("board stopping")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			opts.Close(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "metrics-addr", "", "listen address for /metrics (default metrics.addr)")
	cmd.Flags().DurationVar(&interval, "sweep-interval", time.Minute, "how often expired entries are removed")
	return cmd
}
