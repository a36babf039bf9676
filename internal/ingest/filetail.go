package ingest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"safeguard/internal/config"
)

const sourceFile = "file_tail"

func StartFileTail(ctx context.Context, cfg *config.Manager, emit *Emitter, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		logger.Info("file tail ingest disabled")
		return
	}
	for _, path := range current.Files {
		logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		go tailFile(ctx, path, current.StartAtEnd, emit, logger)
	}
}

// tailFile follows path, reopening it after truncation or rotation.
func tailFile(ctx context.Context, path string, startAtEnd bool, emit *Emitter, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				logger.Warn("tail open failed", "path", path, "error", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// Only the first open skips history; a rotated file is read whole.
				startAtEnd = false
			}
		}

		parser := NewParser()
		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			partial += chunk
			offset += int64(len(chunk))
			if err == nil {
				emit.Line(ctx, parser, partial, sourceFile)
				partial = ""
				continue
			}
			if !errors.Is(err, io.EOF) {
				logger.Warn("tail read error", "path", path, "error", err)
				_ = file.Close()
				file = nil
				break
			}
			if !BackoffSleep(ctx, 200*time.Millisecond) {
				_ = file.Close()
				return
			}
			if info, statErr := os.Stat(path); statErr == nil && info.Size() < offset {
				_ = file.Close()
				file = nil
				break
			}
		}
	}
}
