package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// accountStream keeps a websocket open to the gateway's account channel and
// logs fill and position events as they arrive. It reconnects with geometric
// backoff until stopped.
type accountStream struct {
	url string
	log zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

type streamEvent struct {
	Channel string      `json:"channel"`
	Market  string      `json:"market"`
	Side    string      `json:"side"`
	Size    json.Number `json:"size"`
	Price   json.Number `json:"price"`
	Ts      int64       `json:"ts"`
}

func newAccountStream(wsBase string, subAccount int, log zerolog.Logger) *accountStream {
	return &accountStream{
		url:  fmt.Sprintf("%s/v1/ws?subAccount=%d", wsBase, subAccount),
		log:  log,
		done: make(chan struct{}),
	}
}

func (s *accountStream) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *accountStream) stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		<-s.done
	})
}

func (s *accountStream) run(ctx context.Context) {
	defer close(s.done)

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Msg("account stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return
	}
}

func (s *accountStream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Str("url", s.url).Msg("account stream connected")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("account stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev streamEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode account event")
			continue
		}
		switch ev.Channel {
		case "fills":
			s.log.Info().
				Str("market", ev.Market).
				Str("side", ev.Side).
				Str("size", ev.Size.String()).
				Str("price", ev.Price.String()).
				Msg("fill event")
		case "positions":
			s.log.Debug().
				Str("market", ev.Market).
				Str("size", ev.Size.String()).
				Msg("position event")
		}
	}
}
