package ridgelinewire

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/nmarchenko/ridgeline/internal/engine"
)

// ServerConfig names the listen address and the already-open engine every
// connection shares. One Database serves every connection; concurrent
// statements from different connections are exactly the case the lock
// manager's wait-die queueing exists for.
type ServerConfig struct {
	Addr string
	DB   *engine.Database
}

// Run listens on sc.Addr and serves ExecuteRequest/ExecuteResponse frames
// until SIGINT/SIGTERM.
func Run(sc ServerConfig) error {
	ln, err := net.Listen("tcp", sc.Addr)
	if err != nil {
		return fmt.Errorf("ridgelinewire: listen: %w", err)
	}
	defer func() { _ = ln.Close() }()

	slog.Info("ridgelinewire server listening", "addr", sc.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			slog.Error("accept", "err", err)
			continue
		}
		go handleConn(ctx, conn, sc.DB)
	}
}

func handleConn(ctx context.Context, conn net.Conn, db *engine.Database) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Time{})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var req ExecuteRequest
		if err := ReadFrame(conn, &req); err != nil {
			return
		}

		stmt, err := req.Statement.ToStatement()
		if err != nil {
			_ = WriteFrame(conn, ExecuteResponse{ID: req.ID, Error: err.Error()})
			continue
		}

		res, err := db.Execute(stmt)
		if err != nil {
			_ = WriteFrame(conn, ExecuteResponse{ID: req.ID, Error: err.Error()})
			continue
		}

		resp := ExecuteResponse{
			ID:       req.ID,
			Columns:  res.Columns,
			Rows:     res.Rows,
			Affected: res.Affected,
			Message:  res.Message,
			Exit:     res.Exit,
		}
		if err := WriteFrame(conn, resp); err != nil {
			return
		}
		if res.Exit {
			return
		}
	}
}
