package torii

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable wraps transport failures reaching the indexer.
var ErrUnavailable = errors.New("torii: indexer unreachable")

// HTTPError represents a non-200 HTTP response from the indexer.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("torii: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

func (e *GraphQLError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("torii: graphql: %s", e.Message)
	}
	return fmt.Sprintf("torii: graphql: %s (at %s)", e.Message, strings.Join(e.Path, "."))
}
