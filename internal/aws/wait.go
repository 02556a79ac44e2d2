package aws

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/vietdv277/netlab/internal/log"
)

// ErrWaitTimeout is returned when a resource does not reach the desired state
// within the client's wait timeout.
var ErrWaitTimeout = errors.New("timed out waiting for resource state")

// stateFunc reports a resource's current provider state
type stateFunc func(ctx context.Context) (string, error)

// waitFor polls state until it returns desired. A not-found error counts as
// "not yet visible", since describe calls right after a create may miss the
// new resource.
func (c *Client) waitFor(ctx context.Context, kind, id, desired string, state stateFunc) error {
	var last string
	err := wait.PollUntilContextTimeout(ctx, c.pollInterval, c.waitTimeout, true, func(ctx context.Context) (bool, error) {
		current, err := state(ctx)
		if err != nil {
			if IsNotFound(err) {
				log.Debug(ctx, "resource not visible yet", "kind", kind, "id", id)
				return false, nil
			}
			return false, err
		}
		last = current
		if current == desired {
			return true, nil
		}
		log.Debug(ctx, "waiting for resource state", "kind", kind, "id", id, "state", current, "want", desired)
		return false, nil
	})
	if err != nil && ctx.Err() == nil && wait.Interrupted(err) {
		return fmt.Errorf("%w: %s %s is %q, wanted %q (timeout %s)", ErrWaitTimeout, kind, id, last, desired, c.waitTimeout)
	}
	return err
}
