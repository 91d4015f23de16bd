package callback

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Apply runs the matching rule against table for evt's type (spec §4.1):
// iterate registered callbacks in order, stopping at the first match.
// consumed reports whether any callback matched; passthrough reports
// whether the matching callback also wants the event forwarded to the
// backend. If no callback matches, the caller must forward evt unchanged.
func Apply(ctx context.Context, table *Table, evt cloudevents.Event) (consumed bool, passthrough bool, err error) {
	for _, cb := range table.Entries(evt.Type()) {
		matched, handleErr := cb.Handle(ctx, evt)
		if handleErr != nil {
			return false, false, handleErr
		}
		if matched {
			return true, cb.Passthrough(), nil
		}
	}
	return false, false, nil
}
