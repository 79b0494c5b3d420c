package base

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRowsNotVisible means just-inserted rows did not become readable
// within the poll budget. The destination's read path lags its write path,
// so this is a transient condition: the next scheduled run will find the
// rows and the dedup key keeps the retry idempotent.
var ErrRowsNotVisible = errors.New("inserted rows not visible yet")

// Visibility-poll schedule. The service this replaces slept a fixed few
// seconds before every read-back; polling with a cap keeps the worst case
// bounded and the common case fast.
var (
	pollInterval   = 2 * time.Second
	pollMaxElapsed = 30 * time.Second
)

func pollPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = pollInterval
	policy.MaxInterval = pollInterval
	policy.Multiplier = 1.0
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = pollMaxElapsed
	return policy
}

// WaitForRowIDs polls until every key resolves to a row id, then returns
// the full mapping. Returns ErrRowsNotVisible (wrapped) when the budget
// runs out with keys still unresolved.
func (c *Client) WaitForRowIDs(ctx context.Context, tableName, keyColumn string, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	var resolved map[string]string
	operation := func() error {
		var err error
		resolved, err = c.ResolveRowIDs(ctx, tableName, keyColumn, keys)
		if err != nil {
			// Query errors are not retried here; the run-level retry
			// handles them.
			return backoff.Permanent(err)
		}

		if len(resolved) < len(keys) {
			return fmt.Errorf("%w: %d of %d rows readable in %s", ErrRowsNotVisible, len(resolved), len(keys), tableName)
		}

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(pollPolicy(), ctx)); err != nil {
		return resolved, err
	}

	return resolved, nil
}
