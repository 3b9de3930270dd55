package marathon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/artpar/marathoner/internal/core/status"
)

// maxEventSize bounds a single event on the stream.
const maxEventSize = 1 << 20

var errStreamClosed = errors.New("event stream closed by backend")

// EventHandler receives decoded task events.
type EventHandler func(status.TaskEvent)

// =============================================================================
// Event Stream
// =============================================================================

// Events follows the backend event stream and passes every task status
// update to handler. The stream is reopened with exponential backoff when it
// fails or ends. Events blocks until ctx is done and then returns nil;
// rejected credentials end it with an error.
func (c *Client) Events(ctx context.Context, handler EventHandler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnect
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.stream(ctx, b.Reset, handler)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, ErrUnauthorized) {
			return backoff.Permanent(err)
		}
		if err == nil {
			err = errStreamClosed
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("event stream interrupted", "error", err, "retry_in", wait)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// stream reads one connection of the event stream until it ends.
// connected is called once the backend accepted the subscription.
func (c *Client) stream(ctx context.Context, connected func(), handler EventHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/events?event_type="+status.EventStatusUpdate, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newAPIError("event stream", resp.StatusCode, body)
	}

	connected()
	c.logger.Info("event stream connected")

	return readEvents(resp.Body, func(name, data string) {
		if name != "" && name != status.EventStatusUpdate {
			return
		}
		var ev status.TaskEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			return
		}
		if ev.EventType != "" && ev.EventType != status.EventStatusUpdate {
			return
		}
		handler(ev)
	})
}

// readEvents splits a server-sent event stream into (event name, data)
// pairs. Multi-line data fields are joined with newlines and comment lines
// are skipped.
func readEvents(r io.Reader, emit func(name, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var name string
	var data []string

	flush := func() {
		if len(data) > 0 {
			emit(name, strings.Join(data, "\n"))
		}
		name = ""
		data = data[:0]
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	flush()
	return nil
}
