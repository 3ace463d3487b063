package query

import "context"

// Channel is an open SSH channel, narrowed to what leader resolution needs.
type Channel interface {
	Host() string
	Close() error
}

// LineSource yields lines from a remote command's stdout.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// Executor is the subset of sshexec.Executor the query service needs to
// resolve the Prism leader (spec §4.6 get_cvms).
type Executor interface {
	Connect(ctx context.Context, host string) (Channel, error)
	Exec(ctx context.Context, ch Channel, command string) (LineSource, error)
}
