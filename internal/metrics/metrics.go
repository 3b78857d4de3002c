// Package metrics holds the board's prometheus collectors and the optional
// /metrics listener.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/d60-Lab/board/pkg/logger"
)

var (
	PostsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_posts_created_total",
		Help: "Posts written with both copies.",
	})

	PostsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_posts_deleted_total",
		Help: "Posts removed, by who removed them.",
	}, []string{"by"})

	ReplyLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_reply_links_total",
		Help: "Reply references processed, by outcome.",
	}, []string{"outcome"})

	IDCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_id_collisions_total",
		Help: "Candidate post ids found taken during allocation.",
	})

	PinsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_pins_issued_total",
		Help: "PINs stored, by send status.",
	}, []string{"status"})

	PinsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_pins_verified_total",
		Help: "PIN verification attempts, by result.",
	}, []string{"result"})

	LoginRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_login_rejected_total",
		Help: "Login attempts rejected, by reason.",
	}, []string{"reason"})

	ExpiredSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_expired_rows_swept_total",
		Help: "Expired SQL rows removed by the sweeper.",
	})

	Bans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_bans_total",
		Help: "Ban list inserts, by source.",
	}, []string{"source"})
)

// Server serves /metrics until Shutdown.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Serve starts listening on addr and serves in the background.
func Serve(addr string) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logger.Info("metrics listener started", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener stopped", zap.Error(err))
		}
	}()
	return &Server{srv: srv, ln: ln}, nil
}

// Addr is the bound listen address, useful with port 0.
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
