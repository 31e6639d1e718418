package simulator

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
)

// Serve answers SCPI over newline terminated TCP connections accepted from
// ln until ctx is cancelled. Messages containing '?' are answered; failed
// queries get no answer, as on a real instrument, and the client times out.
func (a *Analyzer) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.logger.Debugf("Simulator listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handleConn(ctx, conn)
		}()
	}
}

func (a *Analyzer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	a.logger.Debugf("Client connected from %s", conn.RemoteAddr())
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}

		if !strings.Contains(msg, "?") {
			if err := a.Write(msg); err != nil {
				a.logger.Warnf("Command %q failed: %v", msg, err)
			}
			continue
		}

		answer, err := a.Query(msg)
		if err != nil {
			a.logger.Warnf("Query %q failed: %v", msg, err)
			continue
		}
		if _, err := conn.Write([]byte(answer + "\n")); err != nil {
			a.logger.Debugf("Error writing to client: %v", err)
			return
		}
	}
	a.logger.Debugf("Client %s disconnected", conn.RemoteAddr())
}
