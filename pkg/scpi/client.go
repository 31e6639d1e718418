// Package scpi talks to an instrument over a raw SCPI socket.
package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultPort    = 5025 // Standard SCPI raw socket port
	DefaultTimeout = 3 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// ParseAddress converts a VISA resource string or a host[:port] string into a
// dialable TCP address. VISA forms accepted:
//
//	TCPIP::192.168.1.200::inst0::INSTR
//	TCPIP0::192.168.1.200::hislip0::INSTR
//	TCPIP::192.168.1.200::5025::SOCKET
//
// VXI-11 and HiSLIP resources are reached on the raw socket port.
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("empty instrument address")
	}

	if strings.HasPrefix(strings.ToUpper(address), "TCPIP") {
		parts := strings.Split(address, "::")
		if len(parts) < 2 || parts[1] == "" {
			return "", fmt.Errorf("invalid VISA address: %s", address)
		}
		host := parts[1]
		port := DefaultPort
		if len(parts) >= 4 && strings.EqualFold(parts[len(parts)-1], "SOCKET") {
			p, err := strconv.Atoi(parts[2])
			if err != nil {
				return "", fmt.Errorf("invalid socket port in %s: %v", address, err)
			}
			port = p
		}
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}

	if _, _, err := net.SplitHostPort(address); err == nil {
		return address, nil
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort)), nil
}

// Client is a line oriented SCPI connection. Each command is terminated with
// a newline and each query answer is read up to a newline.
type Client struct {
	address string
	timeout time.Duration
	logger  log.FieldLogger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the instrument at address, which may be any form accepted
// by ParseAddress.
func Dial(address string, timeout time.Duration, logger log.FieldLogger) (*Client, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to instrument at %s: %w", addr, err)
	}

	c := Client{
		address: addr,
		timeout: timeout,
		logger:  logger.WithField("component", "scpi"),
		conn:    conn,
		reader:  bufio.NewReader(conn),
	}
	c.logger.Debugf("Connected to %s", addr)

	return &c, nil
}

func (c *Client) Address() string { return c.address }

// Write sends a command that produces no answer.
func (c *Client) Write(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.writeLocked(cmd)
}

// Query sends a command and returns the answer without its terminator.
func (c *Client) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return "", err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	resp, err := c.reader.ReadString('\n')
	if err != nil {
		c.dropLocked(err)
		return "", fmt.Errorf("reading answer to %q: %w", cmd, err)
	}

	resp = strings.TrimRight(resp, "\r\n")
	c.logger.Debugf("<- %s", resp)
	return resp, nil
}

// QueryBlock sends a command answered with an IEEE 488.2 definite length
// block, such as MMEM:DATA?, and returns the block content.
func (c *Client) QueryBlock(cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	data, err := ReadBlock(c.reader)
	if err != nil {
		c.dropLocked(err)
		return nil, fmt.Errorf("reading block answer to %q: %w", cmd, err)
	}

	c.logger.Debugf("<- %d byte block", len(data))
	return data, nil
}

// ReadBlock reads a definite length block (#<n><length><data>) followed by
// its terminator. Indefinite blocks (#0) are not supported.
func ReadBlock(r *bufio.Reader) ([]byte, error) {
	hash, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hash != '#' {
		return nil, fmt.Errorf("expected block header, got %q", hash)
	}

	d, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if d < '1' || d > '9' {
		return nil, fmt.Errorf("unsupported block length digit %q", d)
	}

	digits := make([]byte, int(d-'0'))
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, err
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return nil, fmt.Errorf("invalid block length %q: %v", digits, err)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	if _, err := r.ReadString('\n'); err != nil {
		return nil, err
	}
	return data, nil
}

// Identify asks the instrument for its identification string.
func (c *Client) Identify() (string, error) {
	idn, err := c.Query("*IDN?")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(idn), nil
}

// Close closes the connection. Further calls fail with ErrNotConnected, as
// they do after any read or write error.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.logger.Debugf("Disconnected from %s", c.address)
	return err
}

// dropLocked closes the connection after an I/O error. A late answer to a
// timed out query would otherwise be read as the answer to the next one.
// Caller must hold c.mu.
func (c *Client) dropLocked(cause error) {
	if c.conn == nil {
		return
	}
	c.logger.Warnf("Closing connection to %s: %v", c.address, cause)
	c.conn.Close()
	c.conn = nil
	c.reader = nil
}

// writeLocked sends a command (caller must hold c.mu)
func (c *Client) writeLocked(cmd string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.logger.Debugf("-> %s", cmd)
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		c.dropLocked(err)
		return fmt.Errorf("writing %q: %w", cmd, err)
	}
	return nil
}
