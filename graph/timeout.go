package graph

import (
	"context"
	"fmt"
	"time"
)

// nodeTimeout resolves the effective timeout for a node: per-node policy
// first, then the engine default, then unlimited.
func nodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// runNodeWithTimeout executes a single attempt under the resolved timeout.
// A deadline hit surfaces as an upstream_timeout-style engine error so the
// retry path treats it as retryable.
func runNodeWithTimeout[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *NodePolicy,
	defaultTimeout time.Duration,
) (NodeResult[S], error) {
	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		return node.Run(ctx, state), nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return result, &EngineError{
			Message: fmt.Sprintf("node %s exceeded timeout of %v", nodeID, timeout),
			Code:    "NODE_TIMEOUT",
		}
	}
	return result, nil
}
