package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"remotectl/crypto"
	"remotectl/link"
)

// receiver accepts command streams and hands every decoded command to
// onCommand. Streams carry raw 4-byte commands with no framing.
type receiver struct {
	logger    *zap.Logger
	onCommand func(source string, cmd link.Command)

	wg sync.WaitGroup
}

func newReceiver(logger *zap.Logger, onCommand func(source string, cmd link.Command)) *receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &receiver{logger: logger, onCommand: onCommand}
}

// serveTCP accepts connections until ln is closed. Open connections are
// closed when ctx ends.
func (r *receiver) serveTCP(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				r.logger.Warn("tcp accept failed", zap.Error(err))
			}
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer conn.Close()
			stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stop()
			source := "tcp://" + conn.RemoteAddr().String()
			r.handleStream(source, conn)
		}()
	}
}

// serveQUIC accepts connections and their streams until ctx ends or ln is
// closed.
func (r *receiver) serveQUIC(ctx context.Context, ln *quic.Listener) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				r.logger.Warn("quic accept failed", zap.Error(err))
			}
			return
		}

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serveQUICConn(ctx, conn)
		}()
	}
}

func (r *receiver) serveQUICConn(ctx context.Context, conn *quic.Conn) {
	defer conn.CloseWithError(0, "")

	source := "quic://" + conn.RemoteAddr().String()
	if fp := crypto.PeerFingerprint(conn.ConnectionState().TLS); fp != "" {
		source += "?fp=" + fp
	}
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleStream(source, stream)
		}()
	}
}

func (r *receiver) handleStream(source string, stream io.Reader) {
	r.logger.Info("controller connected", zap.String("source", source))
	count, err := r.readCommands(source, stream)
	fields := []zap.Field{zap.String("source", source), zap.Int("commands", count)}
	if err != nil {
		r.logger.Warn("controller stream failed", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Info("controller disconnected", fields...)
}

// readCommands decodes commands until a clean EOF or a QUIC close with
// code 0. Unknown command values are logged and skipped; a truncated
// command is an error.
func (r *receiver) readCommands(source string, stream io.Reader) (int, error) {
	count := 0
	for {
		cmd, err := link.ReadCommand(stream)
		var appErr *quic.ApplicationError
		switch {
		case err == nil:
			count++
			if r.onCommand != nil {
				r.onCommand(source, cmd)
			}
		case errors.Is(err, link.ErrUnknownCommand):
			r.logger.Warn("unknown command", zap.String("source", source), zap.Uint32("value", uint32(cmd)))
		case errors.Is(err, io.EOF):
			return count, nil
		case errors.As(err, &appErr) && appErr.ErrorCode == 0:
			return count, nil
		default:
			return count, fmt.Errorf("read from %s: %w", source, err)
		}
	}
}

func (r *receiver) wait() {
	r.wg.Wait()
}
