package peer

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/netfault"
	"github.com/tronnode/tnd/netsvc"
	"github.com/tronnode/tnd/tronwire"
)

const testTimeout = 2 * time.Second

type reportedFault struct {
	msg tronwire.Message
	err error
}

// mockSink records what a peer hands to the dispatcher. Faults disconnect
// the peer the way the network service does.
type mockSink struct {
	messages chan tronwire.Message
	faults   chan reportedFault
}

func newMockSink() *mockSink {
	return &mockSink{
		messages: make(chan tronwire.Message, 10),
		faults:   make(chan reportedFault, 10),
	}
}

func (m *mockSink) OnMessage(_ netsvc.Peer, msg tronwire.Message) {
	m.messages <- msg
}

func (m *mockSink) ReportFault(p netsvc.Peer, msg tronwire.Message,
	err error) {

	m.faults <- reportedFault{msg: msg, err: err}
	p.Disconnect(netfault.ReasonFor(err))
}

type disconnectRecorder struct {
	mu      sync.Mutex
	reasons []tronwire.ReasonCode
	done    chan struct{}
}

func (d *disconnectRecorder) onDisconnect(_ *Peer,
	reason tronwire.ReasonCode) {

	d.mu.Lock()
	defer d.mu.Unlock()

	d.reasons = append(d.reasons, reason)
	if len(d.reasons) == 1 {
		close(d.done)
	}
}

func (d *disconnectRecorder) snapshot() []tronwire.ReasonCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]tronwire.ReasonCode(nil), d.reasons...)
}

// newTestPeer starts a peer on one end of a pipe and returns the other end.
func newTestPeer(t *testing.T) (*Peer, net.Conn, *mockSink,
	*disconnectRecorder) {

	t.Helper()

	local, remote := net.Pipe()
	sink := newMockSink()
	recorder := &disconnectRecorder{done: make(chan struct{})}

	p := New(Config{
		Conn:         local,
		Inbound:      true,
		Sink:         sink,
		OnDisconnect: recorder.onDisconnect,
		PingTicker:   ticker.NewForce(time.Hour),
	})
	p.Start()

	t.Cleanup(func() {
		remote.Close()
		p.Disconnect(tronwire.ReasonUnknown)
		p.WaitForDisconnect()
	})

	return p, remote, sink, recorder
}

func writeFrame(t *testing.T, conn net.Conn, msg tronwire.Message) {
	t.Helper()

	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(testTimeout)))
	_, err := tronwire.WriteMessage(conn, msg)
	require.NoError(t, err)
}

func readFrame(t *testing.T, conn net.Conn) tronwire.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(testTimeout)))
	msg, err := tronwire.ReadMessage(conn)
	require.NoError(t, err)

	return msg
}

// TestPeerDispatchesInOrder asserts that data messages reach the sink in the
// order they were received.
func TestPeerDispatchesInOrder(t *testing.T) {
	_, remote, sink, _ := newTestPeer(t)

	sent := []tronwire.Message{
		&tronwire.Inventory{InvList: tronwire.InvList{
			Type: tronwire.InvTrx,
		}},
		&tronwire.SyncBlockChain{},
		&tronwire.Transactions{},
		&tronwire.UnknownMessage{Type: 0x40, Payload: []byte{1, 2}},
	}
	for _, msg := range sent {
		writeFrame(t, remote, msg)
	}

	for _, want := range sent {
		select {
		case got := <-sink.messages:
			require.Equal(t, want.MsgType(), got.MsgType())
		case <-time.After(testTimeout):
			t.Fatalf("%v not dispatched", want.MsgType())
		}
	}
}

// TestPeerAnswersPing asserts that pings are answered by the peer itself and
// never dispatched.
func TestPeerAnswersPing(t *testing.T) {
	_, remote, sink, _ := newTestPeer(t)

	writeFrame(t, remote, &tronwire.Ping{Nonce: 99})

	pong, ok := readFrame(t, remote).(*tronwire.Pong)
	require.True(t, ok)
	require.EqualValues(t, 99, pong.Nonce)
	require.Empty(t, sink.messages)
}

// TestPeerDisconnectOnce asserts that concurrent disconnects send a single
// Disconnect frame with the first reason and notify once.
func TestPeerDisconnectOnce(t *testing.T) {
	p, remote, _, recorder := newTestPeer(t)

	frames := make(chan tronwire.Message, 2)
	go func() {
		for {
			msg, err := tronwire.ReadMessage(remote)
			if err != nil {
				close(frames)
				return
			}
			frames <- msg
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Disconnect(tronwire.ReasonBadBlock)
		}()
	}
	wg.Wait()

	var got []tronwire.Message
	for msg := range frames {
		got = append(got, msg)
	}
	require.Len(t, got, 1)
	require.Equal(t, &tronwire.Disconnect{
		Reason: tronwire.ReasonBadBlock,
	}, got[0])

	p.Disconnect(tronwire.ReasonBadTx)
	require.Equal(t, []tronwire.ReasonCode{
		tronwire.ReasonBadBlock,
	}, recorder.snapshot())
	require.Equal(
		t, tronwire.ReasonBadBlock,
		p.DisconnectReason().UnwrapOrFail(t),
	)
	require.ErrorIs(t, p.SendMessage(&tronwire.Ping{}), ErrPeerExiting)
}

// TestPeerWrongLengthFrame asserts that an oversized frame is reported as a
// fault and never dispatched.
func TestPeerWrongLengthFrame(t *testing.T) {
	p, remote, sink, recorder := newTestPeer(t)

	go func() {
		// Drain the Disconnect frame so the peer is not blocked.
		_, _ = tronwire.ReadMessage(remote)
	}()

	var header [5]byte
	header[0] = byte(tronwire.MsgInventory)
	binary.BigEndian.PutUint32(header[1:], tronwire.MaxPayloadSize+1)
	require.NoError(t, remote.SetWriteDeadline(time.Now().Add(testTimeout)))
	_, err := remote.Write(header[:])
	require.NoError(t, err)

	select {
	case f := <-sink.faults:
		require.Nil(t, f.msg)

		fault, ok := netfault.As(f.err)
		require.True(t, ok)
		require.Equal(t, netfault.MessageWrongLength, fault.Kind)

	case <-time.After(testTimeout):
		t.Fatal("fault not reported")
	}

	select {
	case <-recorder.done:
	case <-time.After(testTimeout):
		t.Fatal("peer not disconnected")
	}
	require.Equal(
		t, tronwire.ReasonBadProtocol,
		p.DisconnectReason().UnwrapOrFail(t),
	)
	require.Empty(t, sink.messages)
}

// TestPeerRemoteDisconnect asserts that a Disconnect from the remote closes
// the link without answering and records the remote's reason.
func TestPeerRemoteDisconnect(t *testing.T) {
	p, remote, _, recorder := newTestPeer(t)

	writeFrame(t, remote, &tronwire.Disconnect{
		Reason: tronwire.ReasonSyncFail,
	})

	select {
	case <-p.Disconnected():
	case <-time.After(testTimeout):
		t.Fatal("peer not disconnected")
	}
	<-recorder.done

	require.Equal(t, []tronwire.ReasonCode{
		tronwire.ReasonSyncFail,
	}, recorder.snapshot())

	// No frame is sent back, the pipe is simply closed.
	_, err := tronwire.ReadMessage(remote)
	require.ErrorIs(t, err, io.EOF)
}
