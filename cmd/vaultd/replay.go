package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"vaultchain/core"
	"vaultchain/core/types"
)

// maxBlockLine bounds a single encoded block in the replay file.
const maxBlockLine = 16 << 20

type replayStats struct {
	Applied    int
	Skipped    int
	Rejected   int
	Liquidated int
}

func replayFile(processor *core.Processor, path string, logger *slog.Logger) (replayStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return replayStats{}, fmt.Errorf("open block file: %w", err)
	}
	defer file.Close()
	return replay(processor, file, logger)
}

// replay applies every block of r, one JSON document per line. Blocks at or
// below the current height were applied by an earlier run and are skipped.
func replay(processor *core.Processor, r io.Reader, logger *slog.Logger) (replayStats, error) {
	var stats replayStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBlockLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var block types.Block
		if err := json.Unmarshal([]byte(raw), &block); err != nil {
			return stats, fmt.Errorf("block file line %d: %w", line, err)
		}
		if block.Header == nil {
			return stats, fmt.Errorf("block file line %d: missing header", line)
		}
		if block.Header.Height <= processor.Height() {
			stats.Skipped++
			continue
		}
		result, err := processor.ApplyBlock(&block)
		if err != nil {
			return stats, fmt.Errorf("block file line %d: %w", line, err)
		}
		stats.Applied++
		stats.Liquidated += len(result.Liquidated)
		for _, receipt := range result.Receipts {
			if !receipt.Success {
				stats.Rejected++
				logger.Info("transaction rejected",
					slog.Uint64("height", result.Height),
					slog.String("op", receipt.Type),
					slog.String("code", receipt.Code),
					slog.String("reason", receipt.Error))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read block file: %w", err)
	}
	return stats, nil
}
