package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/altavoz-ai/altavoz/pkg/audio"
)

// MediaStream is one call's bidirectional media WebSocket. Outbound audio is
// sliced to the carrier's chunk size and framed; inbound frames are decoded
// and delivered on a channel for the transcriber.
//
// MediaStream implements [audio.Sink], so it plugs directly into the
// rate-limited output device.
type MediaStream struct {
	conn    *websocket.Conn
	callID  string
	carrier Carrier
	log     *slog.Logger

	inbound chan []byte

	once sync.Once
	done chan struct{}
}

// StreamOption configures a [MediaStream].
type StreamOption func(*MediaStream)

// WithStreamLogger sets the logger. Defaults to [slog.Default].
func WithStreamLogger(log *slog.Logger) StreamOption {
	return func(s *MediaStream) {
		if log != nil {
			s.log = log
		}
	}
}

// WithInboundBuffer sets the inbound audio channel depth. Defaults to 256.
func WithInboundBuffer(n int) StreamOption {
	return func(s *MediaStream) {
		if n > 0 {
			s.inbound = make(chan []byte, n)
		}
	}
}

// Dial connects the media WebSocket for one call and starts the receive
// loop.
func Dial(ctx context.Context, wsURL, callID string, carrier Carrier, opts ...StreamOption) (*MediaStream, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, wsURL, err)
	}
	return newStream(conn, callID, carrier, opts...), nil
}

// Accept wraps an already-established server-side connection, for carriers
// that dial us.
func Accept(conn *websocket.Conn, callID string, carrier Carrier, opts ...StreamOption) *MediaStream {
	return newStream(conn, callID, carrier, opts...)
}

func newStream(conn *websocket.Conn, callID string, carrier Carrier, opts ...StreamOption) *MediaStream {
	s := &MediaStream{
		conn:    conn,
		callID:  callID,
		carrier: carrier,
		log:     slog.Default(),
		inbound: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s
}

// CallID returns the stream's call id.
func (s *MediaStream) CallID() string { return s.callID }

// Carrier returns the negotiated carrier parameters.
func (s *MediaStream) Carrier() Carrier { return s.carrier }

// Inbound returns the channel of decoded caller audio. It closes when the
// remote disconnects or the stream is closed.
func (s *MediaStream) Inbound() <-chan []byte { return s.inbound }

// Play sends synthesized audio to the carrier, sliced to the carrier chunk
// size with silence padding. It satisfies [audio.Sink].
func (s *MediaStream) Play(ctx context.Context, data []byte) error {
	for _, chunk := range SliceChunks(data, s.carrier.ChunkSize, s.carrier.Encoding.SilenceByte()) {
		frame, err := EncodeFrame(s.callID, chunk)
		if err != nil {
			return err
		}
		if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return fmt.Errorf("%w: write media frame: %v", ErrTransport, err)
		}
	}
	return nil
}

// readLoop decodes inbound frames until the connection drops. A normal
// closure (1000) is quiet; every other termination is logged as abnormal.
func (s *MediaStream) readLoop() {
	defer close(s.inbound)
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure {
				s.log.Info("media stream closed", slog.String("call_id", s.callID))
			} else {
				s.log.Warn("media stream terminated abnormally",
					slog.String("call_id", s.callID),
					slog.Int("status", int(status)),
					slog.Any("error", err))
			}
			return
		}

		frameCallID, chunk, err := s.DecodeInbound(data)
		if err != nil {
			s.log.Warn("dropping malformed media frame",
				slog.String("call_id", s.callID), slog.Any("error", err))
			continue
		}
		if frameCallID != "" && frameCallID != s.callID {
			s.log.Warn("dropping frame for another call",
				slog.String("call_id", s.callID),
				slog.String("frame_call_id", frameCallID))
			continue
		}

		select {
		case s.inbound <- chunk:
		case <-s.done:
			return
		}
	}
}

// DecodeInbound parses one raw inbound message. Split out for tests.
func (s *MediaStream) DecodeInbound(data []byte) (string, []byte, error) {
	return DecodeFrame(data)
}

// Close ends the media stream with a normal closure.
func (s *MediaStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close(websocket.StatusNormalClosure, "call ended")
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: close: %v", ErrTransport, err)
	}
	return nil
}

var _ audio.Sink = (*MediaStream)(nil)
