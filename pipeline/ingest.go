// Package pipeline wires the chat feed, calendar classifier,
// disentangler, conversation manager and archiver into a single
// supervised DAG over bounded channels.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/loomlabs/chatloom/conversations"
	"github.com/loomlabs/chatloom/metrics"
)

// Ingestor reads message frames from the chat feed websocket and pushes
// well-formed messages downstream. It is the only stage that owns a
// network connection to the feed.
type Ingestor struct {
	url    string
	out    chan<- conversations.Message
	meters *metrics.Pipeline
}

// NewIngestor creates an ingestor writing to out.
func NewIngestor(url string, out chan<- conversations.Message, meters *metrics.Pipeline) *Ingestor {
	if meters == nil {
		meters = metrics.New(nil)
	}
	return &Ingestor{url: url, out: out, meters: meters}
}

// Run reads frames until the feed closes or ctx is cancelled. The output
// channel is closed on return, which is the downstream shutdown signal.
// A clean feed close and a cancelled context both return nil; transport
// failures return an error.
func (i *Ingestor) Run(ctx context.Context) error {
	defer close(i.out)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, i.url, nil)
	if err != nil {
		return fmt.Errorf("dial feed %s: %w", i.url, err)
	}
	defer conn.Close()
	slog.Info("feed_connected", "url", i.url)

	// ReadMessage has no context; closing the connection unblocks it.
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-readerDone:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("feed_closed", "url", i.url)
				return nil
			}
			if ctx.Err() != nil {
				slog.Info("feed_read_cancelled", "url", i.url)
				return nil
			}
			return fmt.Errorf("read feed frame: %w", err)
		}

		m, err := parseFrame(raw)
		if err != nil {
			i.meters.FramesMalformed.Inc()
			slog.Error("malformed_frame", "frame", string(raw), "error", err)
			continue
		}
		i.meters.MessagesReceived.Inc()

		select {
		case i.out <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func parseFrame(raw []byte) (conversations.Message, error) {
	var m conversations.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, err
	}
	if m.User == "" {
		return m, errors.New("missing user")
	}
	if m.TS.IsZero() {
		return m, errors.New("missing ts")
	}
	return m, nil
}
