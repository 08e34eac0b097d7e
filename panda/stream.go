package panda

import (
	"bufio"
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/usnistgov/mfbcontrol"
)

// Stream asks the data port for ASCII rows and starts delivering records.
// Each acquisition header becomes a SessionStart record. The channel carries
// a final record with Err set if the data connection fails, and is closed
// when the client is closed.
func (c *Client) Stream(ctx context.Context) (<-chan *mfbcontrol.DeviceRecord, error) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	switch {
	case c.state == mfbcontrol.Disconnected:
		return nil, &mfbcontrol.ConnectionError{Op: "stream", Err: mfbcontrol.ErrNotConnected}
	case c.state != mfbcontrol.Armed:
		return nil, mfbcontrol.ErrNotArmed
	case c.streaming:
		return nil, errors.New("data stream already started")
	}

	conn := c.data
	reader := bufio.NewReader(conn)
	conn.SetDeadline(time.Now().Add(c.timeout()))
	if _, err := conn.Write([]byte(dataOptions + "\n")); err != nil {
		return nil, &mfbcontrol.ConnectionError{Op: "stream", Err: err}
	}
	reply, err := readLine(reader)
	if err != nil {
		return nil, &mfbcontrol.ConnectionError{Op: "stream", Err: err}
	}
	if reply != "OK" {
		return nil, &mfbcontrol.CommandError{Command: dataOptions, Response: reply}
	}
	conn.SetDeadline(time.Time{})

	c.streaming = true
	records := make(chan *mfbcontrol.DeviceRecord)
	sr := &streamReader{reader: reader, records: records, done: c.done}
	go sr.run(ctx)
	return records, nil
}

// streamReader turns the data port's lines into records.
type streamReader struct {
	reader  *bufio.Reader
	records chan<- *mfbcontrol.DeviceRecord
	done    <-chan struct{}
}

func (sr *streamReader) run(ctx context.Context) {
	var rows [][]float64
	flush := func() bool {
		if len(rows) == 0 {
			return true
		}
		rec := &mfbcontrol.DeviceRecord{Kind: mfbcontrol.DataRows, Rows: rows}
		rows = nil
		return sr.send(ctx, rec)
	}

	inHeader := false
	for {
		line, err := readLine(sr.reader)
		if err != nil {
			if flush() {
				sr.finish(ctx, &mfbcontrol.ConnectionError{Op: "stream", Err: err})
			}
			return
		}

		switch {
		case inHeader:
			if strings.TrimSpace(line) == "" {
				inHeader = false
				if !sr.send(ctx, &mfbcontrol.DeviceRecord{Kind: mfbcontrol.SessionStart}) {
					return
				}
			}
			continue
		case strings.HasPrefix(line, "missed:"):
			if !flush() {
				return
			}
			inHeader = true
			continue
		case strings.HasPrefix(line, "END"):
			if !flush() {
				return
			}
			mfbcontrol.UpdateLogger.Printf("PandA acquisition ended: %s", line)
			continue
		case strings.TrimSpace(line) == "":
			continue
		}

		row, err := parseRow(line)
		if err != nil {
			if flush() {
				sr.finish(ctx, err)
			}
			return
		}
		rows = append(rows, row)
		// Deliver once no more rows are immediately available.
		if len(rows) >= maxRowsPerRecord || !sr.completeLineBuffered() {
			if !flush() {
				return
			}
		}
	}
}

// completeLineBuffered tells whether another full line can be read without
// waiting on the connection.
func (sr *streamReader) completeLineBuffered() bool {
	n := sr.reader.Buffered()
	if n == 0 {
		return false
	}
	buf, _ := sr.reader.Peek(n)
	return strings.IndexByte(string(buf), '\n') >= 0
}

func (sr *streamReader) send(ctx context.Context, rec *mfbcontrol.DeviceRecord) bool {
	select {
	case sr.records <- rec:
		return true
	case <-ctx.Done():
		return false
	case <-sr.done:
		close(sr.records)
		return false
	}
}

// finish delivers a terminal error, unless the failure was caused by closing
// the client.
func (sr *streamReader) finish(ctx context.Context, err error) {
	select {
	case <-sr.done:
		close(sr.records)
		return
	default:
	}
	sr.send(ctx, &mfbcontrol.DeviceRecord{Err: err})
}

func parseRow(line string) ([]float64, error) {
	fields := strings.Fields(line)
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, &mfbcontrol.MalformedStreamError{Line: line}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &mfbcontrol.MalformedStreamError{Line: line, Reason: "non-finite sample"}
		}
		row[i] = v
	}
	return row, nil
}
