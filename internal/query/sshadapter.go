package query

import (
	"context"
	"fmt"

	"github.com/loghoi/loghoi/internal/sshexec"
)

// ExecutorAdapter wraps a concrete *sshexec.Executor so it satisfies the
// Executor interface this package depends on.
type ExecutorAdapter struct {
	Inner *sshexec.Executor
}

func (a ExecutorAdapter) Connect(ctx context.Context, host string) (Channel, error) {
	ch, err := a.Inner.Connect(ctx, host)
	if err != nil {
		return nil, err
	}
	return channelAdapter{ch}, nil
}

func (a ExecutorAdapter) Exec(ctx context.Context, ch Channel, command string) (LineSource, error) {
	real, ok := ch.(channelAdapter)
	if !ok {
		return nil, fmt.Errorf("query: unexpected channel type %T", ch)
	}
	return a.Inner.Exec(ctx, real.ch, command)
}

type channelAdapter struct {
	ch *sshexec.Channel
}

func (c channelAdapter) Host() string { return c.ch.Host() }
func (c channelAdapter) Close() error { return c.ch.Close() }
