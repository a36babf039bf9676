package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"safeguard/internal/config"
)

const sourceTCP = "tcp_stream"

func StartTCPStream(ctx context.Context, cfg *config.Manager, emit *Emitter, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		logger.Info("tcp stream ingest disabled")
		return
	}
	logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		logger.Error("tcp stream listen error", "error", err)
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go serveTCP(ctx, ln, emit, logger)
}

func serveTCP(ctx context.Context, ln net.Listener, emit *Emitter, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("tcp stream accept error", "error", err)
			continue
		}
		go handleTCPConn(ctx, conn, emit, logger)
	}
}

// Each connection gets its own parser so CSV headers stay per stream.
func handleTCPConn(ctx context.Context, conn net.Conn, emit *Emitter, logger *slog.Logger) {
	defer conn.Close()
	parser := NewParser()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		emit.Line(ctx, parser, scanner.Text(), sourceTCP)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("tcp stream scanner error", "remote", conn.RemoteAddr().String(), "error", err)
	}
}
