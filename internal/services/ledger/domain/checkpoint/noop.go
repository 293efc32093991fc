package checkpoint

import "context"

// Noop never keeps snapshots, so every load replays the full history.
type Noop struct{}

// NewNoop creates a snapshot store that never reuses state.
func NewNoop() *Noop {
	return &Noop{}
}

// GetState always reports that no snapshot exists.
func (n *Noop) GetState(ctx context.Context, _, _ string) (any, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return nil, 0, ErrCheckpointNotFound
}

// SaveState is a no-op.
func (n *Noop) SaveState(ctx context.Context, _, _ string, _ uint64, _ any) error {
	return ctx.Err()
}

// Invalidate is a no-op.
func (n *Noop) Invalidate(_, _ string) {}
