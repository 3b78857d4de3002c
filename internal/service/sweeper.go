package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/board/internal/kv"
	"github.com/d60-Lab/board/pkg/logger"
)

// ExpirySweeper 定期清理已过期的条目：SQL 后端删除过期行，redis 后端
// 修剪 pins、登录计数桶的索引。读路径本身会过滤过期条目，清理只回收空间。
type ExpirySweeper struct {
	sweep     kv.SweepFunc
	interval  time.Duration
	metricsCh chan int64
}

func NewExpirySweeper(sweep kv.SweepFunc, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{sweep: sweep, interval: interval, metricsCh: make(chan int64, 1024)}
}

// Start 启动后台清理；返回停止函数
func (w *ExpirySweeper) Start() func(context.Context) error {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.SweepOnce(context.Background())
			case <-stopCh:
				return
			}
		}
	}()
	return func(ctx context.Context) error {
		close(stopCh)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SweepOnce 执行一次清理，返回删除的条目数
func (w *ExpirySweeper) SweepOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := w.sweep(ctx)
	if err != nil {
		logger.Warn("expiry sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		logger.Debug("expired entries swept", zap.Int64("entries", n))
	}
	select {
	case w.metricsCh <- n:
	default:
	}
	return n
}

// Metrics 每次清理后发送删除的条目数
func (w *ExpirySweeper) Metrics() <-chan int64 { return w.metricsCh }
