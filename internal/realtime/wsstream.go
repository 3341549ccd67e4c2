package realtime

import (
	"bytes"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// wsStream exposes a WebSocket as the byte stream the STOMP codec expects.
// Incoming messages are concatenated; outgoing bytes are buffered until a
// frame terminator (NUL) or a bare heart-beat so each frame travels as one
// text message.
type wsStream struct {
	ws *websocket.Conn

	reader io.Reader

	wmu     sync.Mutex
	pending bytes.Buffer

	closeOnce sync.Once
	onClose   func(error)
}

func newWSStream(ws *websocket.Conn) *wsStream {
	return &wsStream{ws: ws}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.ws.NextReader()
			if err != nil {
				s.closed(err)
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.pending.Write(p)
	buf := s.pending.Bytes()
	if !bytes.HasSuffix(buf, []byte{0}) && len(bytes.Trim(buf, "\r\n")) != 0 {
		return len(p), nil
	}

	err := s.ws.WriteMessage(websocket.TextMessage, buf)
	s.pending.Reset()
	if err != nil {
		s.closed(err)
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.closed(io.EOF)
	return s.ws.Close()
}

func (s *wsStream) closed(err error) {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose(err)
		}
	})
}
