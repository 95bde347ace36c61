// Package sshexec runs one provisioning attempt against one target.
//
// Targets sit behind a relay (jump) host: the executor dials the relay,
// opens a tunnel to the target through it, and executes the command on the
// target end. Output is streamed into the caller's sink as it arrives so a
// killed or timed-out attempt still leaves partial evidence in the job log.
package sshexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/tastythames/labfleet/internal/inventory"
)

const (
	defaultDialTimeout = 15 * time.Second
	tailBytes          = 2048
)

// Result describes one completed attempt, successful or not.
type Result struct {
	ExitStatus int
	StdoutTail string
	StderrTail string
	Duration   time.Duration
}

// Executor implements the scheduler's Runner against real SSH targets.
type Executor struct {
	// Timeout bounds one attempt end to end, dial through command exit.
	// Zero means the caller's context is the only bound.
	Timeout time.Duration

	// DialTimeout bounds the TCP connect to the relay.
	DialTimeout time.Duration
}

// Run executes command on the target, blocking until completion, timeout, or
// cancellation. Raw remote output is appended to sink as it streams.
func (e *Executor) Run(ctx context.Context, target inventory.Target, command string, sink io.Writer) (Result, error) {
	start := time.Now()
	res := Result{ExitStatus: -1}

	attemptCtx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	auth, err := authMethods(target)
	if err != nil {
		res.Duration = time.Since(start)
		return res, errKind(KindAuthRejected, err)
	}

	clientCfg := &ssh.ClientConfig{
		User: target.SSH.User,
		Auth: auth,
		// Lab instances are rebuilt constantly; host keys never persist.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.dialTimeout(),
	}

	// TCP to the relay. The deadline on this conn bounds everything layered
	// over it, the tunnel and the remote command included.
	dialer := net.Dialer{Timeout: e.dialTimeout()}
	conn, err := dialer.DialContext(attemptCtx, "tcp", target.Relay)
	if err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, KindRelayUnreachable, fmt.Errorf("dial relay %s: %w", target.Relay, err))
	}
	defer conn.Close()

	if deadline, ok := attemptCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	relayConn, relayChans, relayReqs, err := ssh.NewClientConn(conn, target.Relay, clientCfg)
	if err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, handshakeKind(err, KindRelayUnreachable), fmt.Errorf("relay %s handshake: %w", target.Relay, err))
	}
	relay := ssh.NewClient(relayConn, relayChans, relayReqs)
	defer relay.Close()

	tunnel, err := relay.Dial("tcp", target.Address)
	if err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, KindConnectionDropped, fmt.Errorf("tunnel to %s via %s: %w", target.Address, target.Relay, err))
	}

	targetConn, targetChans, targetReqs, err := ssh.NewClientConn(tunnel, target.Address, clientCfg)
	if err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, handshakeKind(err, KindConnectionDropped), fmt.Errorf("target %s handshake: %w", target.Address, err))
	}
	client := ssh.NewClient(targetConn, targetChans, targetReqs)
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, KindConnectionDropped, fmt.Errorf("session on %s: %w", target.Address, err))
	}
	defer sess.Close()

	// stdout and stderr arrive on separate goroutines inside x/crypto.
	safeSink := &lockedWriter{w: sink}
	outTail := newTailBuffer(tailBytes)
	errTail := newTailBuffer(tailBytes)
	sess.Stdout = io.MultiWriter(safeSink, outTail)
	sess.Stderr = io.MultiWriter(safeSink, errTail)

	if err := sess.Start(command); err != nil {
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, KindConnectionDropped, fmt.Errorf("start command on %s: %w", target.Address, err))
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-attemptCtx.Done():
		// Best-effort terminate, then drop the transport so Wait returns.
		_ = sess.Signal(ssh.SIGKILL)
		_ = conn.Close()
		<-done
		res.StdoutTail, res.StderrTail = outTail.String(), errTail.String()
		res.Duration = time.Since(start)
		return res, e.classify(ctx, attemptCtx, KindConnectionDropped, attemptCtx.Err())
	case err = <-done:
	}

	res.StdoutTail, res.StderrTail = outTail.String(), errTail.String()
	res.Duration = time.Since(start)

	if err == nil {
		res.ExitStatus = 0
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, errKind(KindExitNonZero, fmt.Errorf("remote command exited %d", res.ExitStatus))
	}
	return res, e.classify(ctx, attemptCtx, KindConnectionDropped, fmt.Errorf("remote command on %s: %w", target.Address, err))
}

func (e *Executor) dialTimeout() time.Duration {
	if e.DialTimeout > 0 {
		return e.DialTimeout
	}
	return defaultDialTimeout
}

// classify turns transport errors into the right kind once cancellation and
// timeout are ruled in or out. The parent context distinguishes an operator
// abort from this attempt's own deadline.
func (e *Executor) classify(parent, attempt context.Context, fallback Kind, err error) *Error {
	if parent.Err() != nil {
		return errKind(KindInterrupted, err)
	}
	if attempt.Err() != nil {
		return errKind(KindTimeout, err)
	}
	return errKind(fallback, err)
}

func handshakeKind(err error, fallback Kind) Kind {
	if strings.Contains(err.Error(), "unable to authenticate") {
		return KindAuthRejected
	}
	return fallback
}

func authMethods(target inventory.Target) ([]ssh.AuthMethod, error) {
	switch target.SSH.Auth.Mode {
	case inventory.AuthPasswordEnv:
		password := os.Getenv(target.SSH.Auth.PasswordEnv)
		if password == "" {
			return nil, fmt.Errorf("credential env %s is empty", target.SSH.Auth.PasswordEnv)
		}
		return []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		}, nil
	case inventory.AuthKey:
		key, err := os.ReadFile(target.SSH.Auth.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key %s: %w", target.SSH.Auth.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", target.SSH.Auth.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", target.SSH.Auth.Mode)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
