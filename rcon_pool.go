package main

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gorcon/rcon"
)

// CommandExecutor runs a console command out of band and returns its reply.
type CommandExecutor interface {
	Execute(cmd string) (string, error)
}

// RCONClient keeps one lazily dialed RCON connection to the server and
// redials once when a command fails on a stale connection.
type RCONClient struct {
	addr     string
	password string
	timeout  time.Duration

	mu   sync.Mutex
	conn *rcon.Conn
}

func NewRCONClient(host string, port int, password string, timeout time.Duration) *RCONClient {
	return &RCONClient{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		password: password,
		timeout:  timeout,
	}
}

func (c *RCONClient) Execute(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := c.dial()
		if err != nil {
			return "", fmt.Errorf("rcon connect %s: %w", c.addr, err)
		}
		resp, err := conn.Execute(cmd)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.drop()
	}
	return "", fmt.Errorf("rcon %q: %w", cmd, lastErr)
}

func (c *RCONClient) dial() (*rcon.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := rcon.Dial(c.addr, c.password,
		rcon.SetDialTimeout(c.timeout),
		rcon.SetDeadline(c.timeout),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *RCONClient) drop() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *RCONClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
