package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dm-service/internal/models"
)

type controlFrame struct {
	messageType int
	data        []byte
}

// fakeSocket is an in-memory Socket. Frames pushed with deliver are returned by ReadMessage.
type fakeSocket struct {
	inbound chan []byte
	readErr chan error
	closed  chan struct{}

	closeOnce  sync.Once
	mu         sync.Mutex
	writes     [][]byte
	controls   []controlFrame
	failWrites bool
	// controlGate, when set, blocks WriteControl until it is closed.
	controlGate chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) deliver(frame string) { s.inbound <- []byte(frame) }

// hangup simulates the peer closing the connection.
func (s *fakeSocket) hangup() {
	s.readErr <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return websocket.TextMessage, data, nil
	case err := <-s.readErr:
		return 0, nil, err
	case <-s.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("broken pipe")
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, _ time.Time) error {
	if s.controlGate != nil {
		<-s.controlGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, controlFrame{messageType: messageType, data: data})
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetReadDeadline(time.Time) error { return nil }
func (s *fakeSocket) SetReadLimit(int64) {}
func (s *fakeSocket) SetPongHandler(func(appData string) error) {}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// closeCode returns the code of the first close frame written, or 0.
func (s *fakeSocket) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.controls {
		if c.messageType == websocket.CloseMessage && len(c.data) >= 2 {
			return int(c.data[0])<<8 | int(c.data[1])
		}
	}
	return 0
}

// eventTypes decodes the "type" field of every text frame written so far.
func (s *fakeSocket) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		var ev struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(w, &ev)
		types = append(types, ev.Type)
	}
	return types
}

func (s *fakeSocket) lastWrite() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	return s.writes[len(s.writes)-1]
}

type recordingPresence struct {
	mu      sync.Mutex
	online  []int64
	offline []int64
	reads   [][2]int64
	readErr error
}

func (p *recordingPresence) Online(_ context.Context, userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID)
	return 0
}

func (p *recordingPresence) Offline(_ context.Context, userID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID)
	return 0
}

func (p *recordingPresence) MarkRead(_ context.Context, readerID, contactID int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, [2]int64{readerID, contactID})
	return 1, p.readErr
}

func (p *recordingPresence) counts() (online, offline int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.online), len(p.offline)
}

type routeCall struct {
	sender, receiver int64
	content, msgType string
}

type recordingRouter struct {
	mu    sync.Mutex
	calls []routeCall
	err   error
}

func (r *recordingRouter) Route(_ context.Context, senderID, receiverID int64, content, msgType string) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, routeCall{senderID, receiverID, content, msgType})
	return models.Message{ID: int64(len(r.calls))}, r.err
}

type relayCall struct {
	kind     string
	receiver int64
	payload  json.RawMessage
}

type recordingRelay struct {
	mu    sync.Mutex
	calls []relayCall
}

func (r *recordingRelay) Relay(kind string, _, receiverID int64, payload json.RawMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, relayCall{kind, receiverID, payload})
	return true, nil
}
