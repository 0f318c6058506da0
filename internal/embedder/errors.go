package embedder

import (
	"fmt"
	"net/http"

	"github.com/54b3r/corpus-go/internal/rag"
)

// requestError wraps a transport-level failure. Connection errors and
// client timeouts are always worth retrying.
func requestError(prefix string, err error) error {
	return rag.Transient(fmt.Errorf("%s: request failed: %w", prefix, err))
}

// statusError builds the error for a non-2xx response. 429 and 5xx are
// marked transient; every other status is permanent.
func statusError(prefix string, status int, msg string) error {
	err := fmt.Errorf("%s: %s", prefix, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return rag.Transient(err)
	}
	return err
}
