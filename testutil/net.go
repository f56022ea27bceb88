/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"errors"
	"fmt"
	"net"
	"time"
)

const pollInterval = 10 * time.Millisecond

// GetLocalFreeTCPPort returns a TCP port on 127.0.0.1 that nobody listens on at the moment of the call.
func GetLocalFreeTCPPort() int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

// GetLocalAddrWithFreeTCPPort returns 127.0.0.1:<free-tcp-port> address.
func GetLocalAddrWithFreeTCPPort() string {
	return fmt.Sprintf("127.0.0.1:%d", GetLocalFreeTCPPort())
}

// WaitListeningServer waits until the server accepts TCP connections on addr.
func WaitListeningServer(addr string, timeout time.Duration) error {
	return waitDial("tcp", addr, timeout)
}

// WaitListeningServerWithUnixSocket waits until the server accepts connections on the unix socket.
func WaitListeningServerWithUnixSocket(unixSocketPath string, timeout time.Duration) error {
	return waitDial("unix", unixSocketPath, timeout)
}

// WaitPortAndListeningServer waits until the server bound on ":0" reports its port
// and then until it accepts TCP connections on host:port.
func WaitPortAndListeningServer(host string, getPort func() int, timeout time.Duration) (int, error) {
	var port int
	if !poll(timeout, func() bool { port = getPort(); return port > 0 }) {
		return 0, errors.New("waiting for listening port timed out")
	}
	return port, waitDial("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
}

func waitDial(network, addr string, timeout time.Duration) error {
	ok := poll(timeout, func() bool {
		conn, err := net.DialTimeout(network, addr, time.Second)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	})
	if !ok {
		return fmt.Errorf("waiting listening server on %s timed out", addr)
	}
	return nil
}

func poll(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
