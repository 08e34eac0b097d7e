// Package panda talks to a PandABox over its TCP control and data ports.
// The Client implements mfbcontrol.HardwareLink.
package panda

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/usnistgov/mfbcontrol"
)

// Default TCP ports of the PandA server.
const (
	ControlPort = 8888
	DataPort    = 8889
)

// DefaultTimeout bounds each command round trip.
const DefaultTimeout = 5 * time.Second

var _ mfbcontrol.HardwareLink = (*Client)(nil)

// maxRowsPerRecord limits how many already-received rows go into one record.
const maxRowsPerRecord = 1000

// dataOptions requests unframed, scaled ASCII rows from the data port.
const dataOptions = "UNFRAMED SCALED ASCII"

// Client is a connection to one PandABox.
type Client struct {
	Host        string
	ControlPort int
	DataPort    int
	Timeout     time.Duration // per command; zero means DefaultTimeout

	control   net.Conn
	reader    *bufio.Reader
	cmdLock   sync.Mutex // serializes command round trips
	data      net.Conn
	streaming bool
	state     mfbcontrol.LinkState
	done      chan struct{}
	stateLock sync.Mutex // guards state, connections and done
}

// NewClient creates a Client for the PandA at host, using the standard ports.
func NewClient(host string) *Client {
	return &Client{
		Host:        host,
		ControlPort: ControlPort,
		DataPort:    DataPort,
		Timeout:     DefaultTimeout,
	}
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// Connect opens the control and data connections. It is a no-op if the
// client is already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.state != mfbcontrol.Disconnected {
		return nil
	}
	dialer := net.Dialer{Timeout: c.timeout()}
	control, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.ControlPort)))
	if err != nil {
		return &mfbcontrol.ConnectionError{Op: "connect", Err: err}
	}
	data, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.Host, strconv.Itoa(c.DataPort)))
	if err != nil {
		control.Close()
		return &mfbcontrol.ConnectionError{Op: "connect", Err: err}
	}
	c.control = control
	c.reader = bufio.NewReader(control)
	c.data = data
	c.streaming = false
	c.done = make(chan struct{})
	c.state = mfbcontrol.Connected
	mfbcontrol.UpdateLogger.Printf("Connected to PandA at %s", c.Host)
	return nil
}

// State returns the link state.
func (c *Client) State() mfbcontrol.LinkState {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	return c.state
}

// Close tears down both connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.state == mfbcontrol.Disconnected {
		return nil
	}
	close(c.done)
	err := errors.Join(c.control.Close(), c.data.Close())
	c.state = mfbcontrol.Disconnected
	return err
}

// Get reads one field. Multi-line replies are joined with newlines.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.exchange(ctx, key+"?")
}

// Put writes one field.
func (c *Client) Put(ctx context.Context, key, value string) error {
	_, err := c.exchange(ctx, key+"="+value)
	return err
}

// PutTable writes a table field, one row per line.
func (c *Client) PutTable(ctx context.Context, key string, rows []string) error {
	_, err := c.exchange(ctx, tableCommand(key, rows))
	return err
}

// Arm starts acquisition.
func (c *Client) Arm(ctx context.Context) error {
	if _, err := c.exchange(ctx, "*PCAP.ARM="); err != nil {
		return err
	}
	c.stateLock.Lock()
	c.state = mfbcontrol.Armed
	c.stateLock.Unlock()
	return nil
}

// EnsureArmed arms acquisition unless activeKey shows it already running.
func (c *Client) EnsureArmed(ctx context.Context, activeKey string) error {
	active, err := c.Get(ctx, activeKey)
	if err != nil {
		return err
	}
	if active == "0" {
		return c.Arm(ctx)
	}
	c.stateLock.Lock()
	c.state = mfbcontrol.Armed
	c.stateLock.Unlock()
	return nil
}

// SetState sends a saved configuration. Every command is attempted; device
// rejections are collected and returned together, while a transport failure
// stops at once.
func (c *Client) SetState(ctx context.Context, lines []string) error {
	var rejected []error
	for _, cmd := range stateCommands(lines) {
		_, err := c.exchange(ctx, cmd)
		var connErr *mfbcontrol.ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		if err != nil {
			mfbcontrol.ProblemLogger.Printf("PandA rejected state line: %v", err)
			rejected = append(rejected, err)
		}
	}
	return errors.Join(rejected...)
}

// stateCommands groups state-file lines into commands. A line ending in "<"
// starts a table that runs to the next blank line.
func stateCommands(lines []string) []string {
	var cmds []string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasSuffix(line, "<") {
			cmds = append(cmds, line)
			continue
		}
		var rows []string
		for i++; i < len(lines) && strings.TrimSpace(lines[i]) != ""; i++ {
			rows = append(rows, strings.TrimSpace(lines[i]))
		}
		cmds = append(cmds, tableCommand(strings.TrimSuffix(line, "<"), rows))
	}
	return cmds
}

func tableCommand(key string, rows []string) string {
	var b strings.Builder
	b.WriteString(key)
	b.WriteString("<")
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(r)
	}
	b.WriteString("\n")
	return b.String()
}

// exchange sends one command and reads its reply. The reply "OK" gives "",
// "OK =v" gives v, and "!" lines up to "." give those lines joined.
func (c *Client) exchange(ctx context.Context, cmd string) (string, error) {
	c.stateLock.Lock()
	conn, reader, state := c.control, c.reader, c.state
	c.stateLock.Unlock()
	if state == mfbcontrol.Disconnected {
		return "", &mfbcontrol.ConnectionError{Op: firstLine(cmd), Err: mfbcontrol.ErrNotConnected}
	}

	c.cmdLock.Lock()
	defer c.cmdLock.Unlock()

	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return "", c.transportError(ctx, cmd, err)
	}
	line, err := readLine(reader)
	if err != nil {
		return "", c.transportError(ctx, cmd, err)
	}
	switch {
	case line == "OK":
		return "", nil
	case strings.HasPrefix(line, "OK ="):
		return strings.TrimPrefix(line, "OK ="), nil
	case strings.HasPrefix(line, "ERR"):
		return "", &mfbcontrol.CommandError{Command: firstLine(cmd), Response: line}
	case strings.HasPrefix(line, "!"):
		var values []string
		for ; line != "."; line, err = readLine(reader) {
			if err != nil {
				return "", c.transportError(ctx, cmd, err)
			}
			if !strings.HasPrefix(line, "!") {
				return "", &mfbcontrol.CommandError{Command: firstLine(cmd), Response: line,
					Err: fmt.Errorf("unexpected line %q in multi-line reply", line)}
			}
			values = append(values, strings.TrimPrefix(line, "!"))
		}
		return strings.Join(values, "\n"), nil
	}
	return "", &mfbcontrol.CommandError{Command: firstLine(cmd), Response: line,
		Err: fmt.Errorf("unrecognized reply %q", line)}
}

func (c *Client) transportError(ctx context.Context, cmd string, err error) error {
	if ctx.Err() != nil {
		err = fmt.Errorf("%w (%w)", ctx.Err(), err)
	}
	return &mfbcontrol.ConnectionError{Op: firstLine(cmd), Err: err}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func firstLine(cmd string) string {
	line, _, _ := strings.Cut(cmd, "\n")
	return line
}
