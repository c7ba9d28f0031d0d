package providers

import (
	"context"
	"fmt"

	"claude-bridge/internal/models"
)

// ChunkStream yields the data payloads of an upstream SSE stream, one
// chunk per Next call. io.EOF marks end of stream, whether it arrived
// via the [DONE] sentinel or transport close.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// CompletionProvider is the backend boundary: a translated request in,
// either a complete response or a chunk stream out. The apiKey argument
// is decided per request by the auth mode (fixed key or passthrough).
type CompletionProvider interface {
	Complete(ctx context.Context, req *models.OpenAIChatRequest, apiKey string) (*models.OpenAIChatResponse, error)
	StreamComplete(ctx context.Context, req *models.OpenAIChatRequest, apiKey string) (ChunkStream, error)
}

// UpstreamError carries a non-2xx backend reply. The status code is
// preserved where meaningful; transport failures surface as plain
// errors and map to 502.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}
