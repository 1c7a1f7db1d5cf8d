package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"flowscribe/internal/events"
)

// StreamEvents subscribes to the daemon's event stream and calls fn for each
// event until ctx ends or the daemon closes the stream. A clean close by the
// daemon returns nil.
func (c *Client) StreamEvents(ctx context.Context, fn func(events.Event)) error {
	target := "ws" + strings.TrimPrefix(c.base, "http") + "/api/events"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if resp != nil {
			defer resp.Body.Close()
			return &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("event stream closed: %s", closeErr.Text)
			}
			return fmt.Errorf("read event: %w", err)
		}
		fn(ev)
	}
}
