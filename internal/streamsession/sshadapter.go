package streamsession

import (
	"context"

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
	return channelAdapter{ch: ch, exec: a.Inner}, nil
}

type channelAdapter struct {
	ch   *sshexec.Channel
	exec *sshexec.Executor
}

func (c channelAdapter) Host() string { return c.ch.Host() }
func (c channelAdapter) Close() error { return c.ch.Close() }

func (c channelAdapter) Stream(ctx context.Context, path string) (LineSource, error) {
	return c.exec.Stream(ctx, c.ch, path)
}
