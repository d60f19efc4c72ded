package driven

import "context"

// Operation is one unit of upstream work parameterized by an API key.
// Implementations must preserve the upstream failure text when wrapping
// errors: quota classification matches on that text.
type Operation func(ctx context.Context, apiKey string) error
