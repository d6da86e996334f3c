// Package export ships channel summaries of a scan to external sinks.
package export

import (
	"context"

	"github.com/gwdetchar/omegascan/omega"
)

// Exporter consumes summaries until the channel is closed. It returns on the
// first summary it fails to export; the caller keeps draining the channel.
type Exporter interface {
	Write(context.Context, <-chan omega.Summary) error
}

// Discard drains summaries without storing them.
type Discard struct{}

func (Discard) Write(ctx context.Context, summaries <-chan omega.Summary) error {
	for range summaries {
	}
	return nil
}
