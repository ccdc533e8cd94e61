package headless

import (
	"context"
	"errors"

	"github.com/usyd/webcrawler-rag/internal/crawler"
)

// ErrDisabled is returned when headless rendering is turned off.
var ErrDisabled = errors.New("headless rendering disabled")

// Disabled satisfies crawler.Fetcher when no browser is available.
type Disabled struct{}

// Fetch always fails with ErrDisabled.
func (Disabled) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrDisabled
}
