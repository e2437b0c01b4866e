package netsvc

import (
	"bytes"
	"net"
	"sync"
	"testing"

	"github.com/btcsuite/btclog/v2"
	"github.com/stretchr/testify/mock"
	"github.com/tronnode/tnd/tronwire"
)

var testAddr = &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 18888}

type mockPeer struct {
	mock.Mock
}

var _ Peer = (*mockPeer)(nil)

func newMockPeer() *mockPeer {
	p := &mockPeer{}
	p.On("RemoteAddr").Return(testAddr).Maybe()

	return p
}

func (m *mockPeer) RemoteAddr() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *mockPeer) SendMessage(msg tronwire.Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *mockPeer) Disconnect(reason tronwire.ReasonCode) {
	m.Called(reason)
}

type mockHandler struct {
	mock.Mock
}

var _ Handler = (*mockHandler)(nil)

func (m *mockHandler) ProcessMessage(p Peer, msg tronwire.Message) error {
	args := m.Called(p, msg)
	return args.Error(0)
}

// callLog records lifecycle calls across subsystems in the order they
// happen.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

type mockSubsystem struct {
	mock.Mock

	name  string
	calls *callLog
}

var _ Lifecycle = (*mockSubsystem)(nil)

func (m *mockSubsystem) Init() error {
	m.calls.record("init " + m.name)
	return m.Called().Error(0)
}

func (m *mockSubsystem) Close() error {
	m.calls.record("close " + m.name)
	return m.Called().Error(0)
}

// recordingPeer is a lightweight Peer for property tests.
type recordingPeer struct {
	mu          sync.Mutex
	disconnects []tronwire.ReasonCode
}

func (r *recordingPeer) RemoteAddr() net.Addr {
	return testAddr
}

func (r *recordingPeer) SendMessage(tronwire.Message) error {
	return nil
}

func (r *recordingPeer) Disconnect(reason tronwire.ReasonCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnects = append(r.disconnects, reason)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(b)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

func (s *syncBuffer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
}

// captureLog redirects the package logger into a buffer for the duration of
// the test.
func captureLog(t *testing.T) *syncBuffer {
	t.Helper()

	buf := &syncBuffer{}
	logger := btclog.NewSLogger(btclog.NewDefaultHandler(buf))
	logger.SetLevel(btclog.LevelDebug)

	prev := log
	UseLogger(logger)
	t.Cleanup(func() {
		UseLogger(prev)
	})

	return buf
}

// testMessages returns one message of every dispatchable type.
func testMessages() map[tronwire.MessageType]tronwire.Message {
	return map[tronwire.MessageType]tronwire.Message{
		tronwire.MsgSyncBlockChain:      &tronwire.SyncBlockChain{},
		tronwire.MsgBlockChainInventory: &tronwire.ChainInventory{},
		tronwire.MsgInventory: &tronwire.Inventory{
			InvList: tronwire.InvList{Type: tronwire.InvTrx},
		},
		tronwire.MsgFetchInvData: &tronwire.FetchInvData{
			InvList: tronwire.InvList{Type: tronwire.InvBlock},
		},
		tronwire.MsgBlock: &tronwire.BlockMsg{},
		tronwire.MsgTrxs:  &tronwire.Transactions{},
	}
}
