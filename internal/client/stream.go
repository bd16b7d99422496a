package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"whosprinting-backend/internal/session"
)

const maxEventSize = 1 << 20

// Subscribe reads the server's event stream and forwards every decoded
// message to out until ctx is done. A dropped connection is re-established,
// no more often than the reconnect limiter allows. onConnect, if set, runs
// after each successful connect so the caller can resynchronize state it
// may have missed while disconnected.
func (c *Client) Subscribe(ctx context.Context, out chan<- session.Message, onConnect func(context.Context)) error {
	for {
		if err := c.reconnect.Wait(ctx); err != nil {
			return ctx.Err()
		}
		err := c.readStream(ctx, out, onConnect)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("Event stream interrupted: %v", err)
	}
}

func (c *Client) readStream(ctx context.Context, out chan<- session.Message, onConnect func(context.Context)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeStatusError(resp)
	}

	c.logger.Printf("Event stream connected")
	if onConnect != nil {
		onConnect(ctx)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := c.dispatch(ctx, event, data, out); err != nil {
				return err
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream closed by server")
}

// dispatch decodes one complete server-sent event. Events the session has no
// use for are skipped.
func (c *Client) dispatch(ctx context.Context, event string, data []string, out chan<- session.Message) error {
	if len(data) == 0 || (event != "" && event != "plugin") {
		return nil
	}

	msg, err := session.Decode([]byte(strings.Join(data, "\n")))
	if errors.Is(err, session.ErrUnhandledEvent) {
		return nil
	}
	if err != nil {
		c.logger.Printf("Skipping malformed push message: %v", err)
		return nil
	}

	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
