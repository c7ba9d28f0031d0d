package claude

import (
	"bufio"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"claude-bridge/internal/models"
)

// marshalJSONSafely marshals JSON and logs errors instead of silently failing
func marshalJSONSafely(log *zap.Logger, v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal JSON", zap.Error(err), zap.Any("value", v))
		return []byte("{}")
	}
	return data
}

// writeEvent frames one event as SSE and flushes it. Returns false when
// the client connection is gone.
func writeEvent(w *bufio.Writer, log *zap.Logger, ev models.ClaudeStreamEvent) bool {
	data := marshalJSONSafely(log, ev)
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		log.Debug("failed to write SSE event", zap.Error(err))
		return false
	}
	if err := w.Flush(); err != nil {
		log.Debug("failed to flush SSE event", zap.Error(err))
		return false
	}
	return true
}

func writeEvents(w *bufio.Writer, log *zap.Logger, events []models.ClaudeStreamEvent) bool {
	for _, ev := range events {
		if !writeEvent(w, log, ev) {
			return false
		}
	}
	return true
}
