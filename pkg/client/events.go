package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
)

// EventStream is a live subscription to the server's event feed.
type EventStream struct {
	conn *websocket.Conn
}

// Events opens the WebSocket event stream. The stream stays open until
// Close is called, ctx is cancelled, or the server goes away.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	wsURL := c.baseURL + "/v1/events"
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.Wrap(err, "dial event stream")
	}

	stream := &EventStream{conn: conn}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
	}
	return stream, nil
}

// Next blocks for the next event.
func (s *EventStream) Next() (*events.Event, error) {
	var ev events.Event
	if err := s.conn.ReadJSON(&ev); err != nil {
		return nil, errors.Wrap(err, "read event")
	}
	return &ev, nil
}

// Close tears down the subscription.
func (s *EventStream) Close() error {
	return s.conn.Close()
}
