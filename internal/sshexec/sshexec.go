// Package sshexec is the Remote Executor (C1): authenticated SSH channels to
// a CVM, with command execution, line-oriented streaming, and a tri-tier
// fetch fallback (SFTP -> scp -> ssh cat).
//
// Connection shape grounded on coreos-coreos-assembler's
// mantle/network/ssh.go (ssh.ClientConfig{HostKeyCallback:
// InsecureIgnoreHostKey()}); fetch fallback grounded on original_source's
// fastapi_app/ssh_manager.py and core/broker_col.py.
package sshexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const defaultSSHPort = 22
const defaultSSHUser = "nutanix"

// Executor opens SSH channels against CVMs using a single preconfigured
// private key (spec §1: "Authentication to clusters via a preprovisioned
// private key is assumed; key management is not specified").
type Executor struct {
	signer         ssh.Signer
	user           string
	connectTimeout time.Duration
	scpTimeout     time.Duration
	keyPath        string
}

// New constructs an Executor from a private key file at keyPath.
func New(keyPath string, connectTimeout, scpTimeout time.Duration) (*Executor, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &KeyError{Path: keyPath, Cause: err}
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, &KeyError{Path: keyPath, Cause: err}
	}
	return &Executor{
		signer:         signer,
		user:           defaultSSHUser,
		connectTimeout: connectTimeout,
		scpTimeout:     scpTimeout,
		keyPath:        keyPath,
	}, nil
}

// Channel is an open SSH connection to one CVM, owned exclusively by
// whichever Session or CollectionJob opened it (spec §3 Ownership).
type Channel struct {
	client *ssh.Client
	host   string
}

// Host returns the address this channel is connected to.
func (c *Channel) Host() string { return c.host }

// Close releases the underlying SSH client. Idempotent.
func (c *Channel) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func ensurePort(host string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, defaultSSHPort)
}

// Connect opens a new SSH channel to host, applying the configured connect
// timeout. Unknown host keys are accepted: this is an operator tool against
// a controlled fleet, not a public-facing client.
func (e *Executor) Connect(ctx context.Context, host string) (*Channel, error) {
	cfg := &ssh.ClientConfig{
		User:            e.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.connectTimeout,
	}

	addr := ensurePort(host)
	dialer := &net.Dialer{Timeout: e.connectTimeout}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				done <- result{nil, &TimeoutError{Op: "connect", Host: host, Cause: err}}
				return
			}
			done <- result{nil, fmt.Errorf("sshexec: dial %s: %w", host, err)}
			return
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			if isAuthErr(err) {
				done <- result{nil, &AuthError{
					Host:  host,
					Cause: err,
					Hint:  "SSH authentication failed; register the collector's public key in Prism for this cluster",
				}}
				return
			}
			done <- result{nil, fmt.Errorf("sshexec: connect %s: %w", host, err)}
			return
		}
		done <- result{ssh.NewClient(sshConn, chans, reqs), nil}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return &Channel{client: r.client, host: host}, nil
	case <-ctx.Done():
		return nil, &TimeoutError{Op: "connect", Host: host, Cause: ctx.Err()}
	}
}

func isAuthErr(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "ssh: handshake failed")
}

// Exec starts command on ch and returns its stdout as a line-oriented lazy
// sequence as soon as the command has started. No exit code is returned
// separately: LineReader.Close waits for the remote process and returns its
// wait error (an *ssh.ExitError for a non-zero exit status).
func (e *Executor) Exec(ctx context.Context, ch *Channel, command string) (*LineReader, error) {
	session, err := ch.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("sshexec: new session on %s: %w", ch.host, err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("sshexec: stdout pipe: %w", err)
	}

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("sshexec: start %q: %w", command, err)
	}

	lr := &LineReader{
		scanner: bufio.NewScanner(stdout),
		session: session,
		wait:    func() error { return session.Wait() },
	}

	go func() {
		<-ctx.Done()
		session.Close()
	}()

	return lr, nil
}

// Stream runs "tail -f <path>" and returns an infinite line-oriented
// sequence, terminated only by channel close or caller cancellation.
func (e *Executor) Stream(ctx context.Context, ch *Channel, path string) (*LineReader, error) {
	return e.Exec(ctx, ch, fmt.Sprintf("tail -f %s", shellQuote(path)))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// LineReader yields lines from a remote command's stdout.
type LineReader struct {
	scanner *bufio.Scanner
	session *ssh.Session
	wait    func() error
}

// Next blocks for the next line. It returns io.EOF once the remote process
// has closed stdout.
func (r *LineReader) Next() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close waits for the remote command to exit and releases the session.
func (r *LineReader) Close() error {
	defer r.session.Close()
	return r.wait()
}

// Fetch copies remotePath from ch to localPath, attempting in order: SFTP
// get, scp subprocess, ssh-cat-redirect. Returns nil on the first success.
func (e *Executor) Fetch(ctx context.Context, ch *Channel, remotePath, localPath string) error {
	var errs []string

	if err := e.fetchSFTP(ch, remotePath, localPath); err == nil {
		return nil
	} else {
		errs = append(errs, fmt.Sprintf("sftp: %v", err))
	}

	if err := e.fetchSCP(ctx, ch.host, remotePath, localPath); err == nil {
		return nil
	} else {
		errs = append(errs, fmt.Sprintf("scp: %v", err))
	}

	if err := e.fetchCat(ctx, ch, remotePath, localPath); err == nil {
		return nil
	} else {
		errs = append(errs, fmt.Sprintf("cat: %v", err))
	}

	return fmt.Errorf("sshexec: fetch %s from %s failed on all transports: %s", remotePath, ch.host, strings.Join(errs, "; "))
}

func (e *Executor) fetchSFTP(ch *Channel, remotePath, localPath string) error {
	client, err := sftp.NewClient(ch.client)
	if err != nil {
		return err
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

func (e *Executor) fetchSCP(ctx context.Context, host, remotePath, localPath string) error {
	scpCtx, cancel := context.WithTimeout(ctx, e.scpTimeout)
	defer cancel()

	cmd := exec.CommandContext(scpCtx, "scp",
		"-O",
		"-o", "StrictHostKeyChecking=no",
		"-i", e.keyPath,
		fmt.Sprintf("%s@%s:%s", e.user, strings.Split(ensurePort(host), ":")[0], remotePath),
		localPath,
	)
	return cmd.Run()
}

func (e *Executor) fetchCat(ctx context.Context, ch *Channel, remotePath, localPath string) error {
	lr, err := e.Exec(ctx, ch, fmt.Sprintf("cat %s", shellQuote(remotePath)))
	if err != nil {
		return err
	}
	defer lr.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for {
		line, err := lr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}
