package testutil

import (
	"net"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// FreePort reserves a local TCP port and returns it to the caller.
// Params: none.
// Returns: free port number or error.
func FreePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// StartLocalNATSServer starts local nats-server with JetStream enabled for tests.
// Skips under -short or when nats-server is not on PATH; stop is registered with tb.Cleanup.
// Params: test handle for lifecycle and failure reporting.
// Returns: server URL and idempotent stop callback.
func StartLocalNATSServer(tb testing.TB) (string, func()) {
	tb.Helper()

	if testing.Short() {
		tb.Skip("nats integration test skipped in -short mode")
	}
	if _, err := exec.LookPath("nats-server"); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}

	port, err := FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}

	dataDir := tb.TempDir()
	cmd := exec.Command("nats-server", "-js", "-p", strconv.Itoa(port), "-sd", dataDir)
	if err := cmd.Start(); err != nil {
		tb.Skipf("nats-server is required for integration test: %v", err)
	}

	url := "nats://127.0.0.1:" + strconv.Itoa(port)
	WaitForNATSReady(tb, url, 8*time.Second)

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			if cmd.Process == nil {
				return
			}
			_ = cmd.Process.Signal(syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				_, _ = cmd.Process.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				_ = cmd.Process.Kill()
				<-done
			}
		})
	}
	tb.Cleanup(stop)
	return url, stop
}

// SubscribeSubject collects core NATS messages published on subject.
// Params: test handle, server URL, and subject (wildcards allowed).
// Returns: buffered message channel closed on test cleanup.
func SubscribeSubject(tb testing.TB, url, subject string) <-chan *nats.Msg {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	messages := make(chan *nats.Msg, 256)
	sub, err := nc.ChanSubscribe(subject, messages)
	if err != nil {
		nc.Close()
		tb.Fatalf("subscribe %q: %v", subject, err)
	}
	if err := nc.Flush(); err != nil {
		tb.Fatalf("flush nats: %v", err)
	}
	tb.Cleanup(func() {
		_ = sub.Unsubscribe()
		nc.Close()
	})
	return messages
}

// PublishJetStream publishes one payload through JetStream and waits for ack.
// Params: test handle, server URL, subject, and body.
// Returns: publish succeeded or test fails.
func PublishJetStream(tb testing.TB, url, subject string, body []byte) {
	tb.Helper()

	nc, err := nats.Connect(url)
	if err != nil {
		tb.Fatalf("connect nats: %v", err)
	}
	defer nc.Close()
	js, err := nc.JetStream()
	if err != nil {
		tb.Fatalf("jetstream: %v", err)
	}
	if _, err := js.Publish(subject, body); err != nil {
		tb.Fatalf("publish %q: %v", subject, err)
	}
}

// WaitForNATSReady waits until a NATS endpoint accepts connections.
// Params: test handle, nats URL, and timeout.
// Returns: endpoint is reachable or test fails.
func WaitForNATSReady(tb testing.TB, url string, timeout time.Duration) {
	tb.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		nc, err := nats.Connect(url)
		if err == nil {
			nc.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	tb.Fatalf("nats did not become ready at %s", url)
}
