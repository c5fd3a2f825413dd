package conn

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sys/unix"

	"github.com/kbowen/nrbd/internal/logging"
)

// DialRace runs the parallel connect-and-listen race of spec.md §4.7:
// one goroutine dials peerAddr while another listens on localAddr, both
// starting at once, and the first connection either of them yields is
// returned. Each accept waits at most tryConnectInterval before it is
// retried; dial retries are paced by backoff/v5, starting at
// tryConnectInterval and capped at four times that.
func DialRace(ctx context.Context, localAddr, peerAddr string, tryConnectInterval time.Duration, log *logging.Logger) (net.Conn, error) {
	if log == nil {
		log = logging.Default()
	}

	type result struct {
		conn net.Conn
		err  error
	}
	winner := make(chan result, 2)
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		conn, err := dialWithBackoff(raceCtx, peerAddr, tryConnectInterval, log)
		winner <- result{conn, err}
	}()

	go func() {
		conn, err := acceptWithRetry(raceCtx, localAddr, tryConnectInterval, log)
		winner <- result{conn, err}
	}()

	for i := 0; i < 2; i++ {
		r := <-winner
		if r.conn != nil {
			cancel()
			return r.conn, nil
		}
	}
	return nil, ctx.Err()
}

func dialWithBackoff(ctx context.Context, addr string, retryInterval time.Duration, log *logging.Logger) (net.Conn, error) {
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     retryInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         retryInterval * 4,
	})
	defer ticker.Stop()

	dialer := net.Dialer{Timeout: retryInterval}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				log.With("addr", addr, "error", err).Debug("connect attempt failed, will retry")
				continue
			}
			tuneSocket(conn, log)
			return conn, nil
		}
	}
}

func acceptWithRetry(ctx context.Context, addr string, acceptTimeout time.Duration, log *logging.Logger) (net.Conn, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ch := make(chan acceptResult, 1)
		go func() {
			c, err := ln.Accept()
			ch <- acceptResult{c, err}
		}()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r := <-ch:
			if r.err != nil {
				log.With("addr", addr, "error", r.err).Debug("accept failed, retrying")
				continue
			}
			tuneSocket(r.conn, log)
			return r.conn, nil
		case <-time.After(acceptTimeout):
			continue
		}
	}
}

// tuneSocket sets TCP_NODELAY and keepalive on the replication socket,
// since the ack-timer design (spec.md §4.6) is latency-sensitive.
func tuneSocket(conn net.Conn, log *logging.Logger) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(true); err != nil {
		log.WithError(err).Debug("failed to set TCP_NODELAY")
	}
	if err := tc.SetKeepAlive(true); err != nil {
		log.WithError(err).Debug("failed to set keepalive")
	}
	if err := tc.SetKeepAlivePeriod(30 * time.Second); err != nil {
		log.WithError(err).Debug("failed to set keepalive period")
	}

	rc, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = rc.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
