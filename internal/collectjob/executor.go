package collectjob

import "context"

// Channel is an open SSH channel to one CVM, narrowed to what a collection
// job needs.
type Channel interface {
	Host() string
	Close() error
}

// LineSource yields lines from a remote command's stdout.
type LineSource interface {
	Next() (string, error)
	Close() error
}

// Executor is the subset of sshexec.Executor the job manager needs.
// Narrowed to an interface so job pipeline tests can run without a live
// SSH server.
type Executor interface {
	Connect(ctx context.Context, host string) (Channel, error)
	Fetch(ctx context.Context, ch Channel, remotePath, localPath string) error
	Exec(ctx context.Context, ch Channel, command string) (LineSource, error)
}
