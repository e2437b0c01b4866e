package peer

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/tronnode/tnd/tronwire"
)

// TestPingManager ensures that a late pong or a pong that does not echo the
// ping's nonce triggers a failure, and that a matching pong records the round
// trip time.
func TestPingManager(t *testing.T) {
	t.Parallel()

	const nonce = 0xdeadbeef

	testCases := []struct {
		name      string
		pongNonce uint64
		expire    bool
		result    bool
	}{
		{
			name:      "happy path",
			pongNonce: nonce,
			result:    true,
		},
		{
			name:      "bad pong",
			pongNonce: nonce + 1,
			result:    false,
		},
		{
			name:      "timeout",
			pongNonce: nonce,
			expire:    true,
			result:    false,
		},
	}

	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			start := time.Unix(1_700_000_000, 0)
			testClock := clock.NewTestClock(start)
			pingTicker := ticker.NewForce(time.Hour)

			pingSent := make(chan *tronwire.Ping, 1)
			failed := make(chan error, 1)
			mgr := NewPingManager(&PingManagerConfig{
				NewNonce: func() uint64 {
					return nonce
				},
				Ticker:          pingTicker,
				TimeoutDuration: 10 * time.Second,
				Clock:           testClock,
				SendPing: func(ping *tronwire.Ping) {
					pingSent <- ping
				},
				OnPongFailure: func(err error,
					_ time.Duration) {

					failed <- err
				},
			})
			mgr.Start()
			defer mgr.Stop()

			pingTicker.Force <- start

			var ping *tronwire.Ping
			select {
			case ping = <-pingSent:
			case <-time.After(time.Second):
				t.Fatal("ping not sent")
			}
			require.EqualValues(t, nonce, ping.Nonce)

			if test.expire {
				testClock.SetTime(start.Add(10 * time.Second))
			} else {
				testClock.SetTime(start.Add(time.Second))
				mgr.ReceivedPong(&tronwire.Pong{
					Nonce: test.pongNonce,
				})
			}

			select {
			case <-time.After(200 * time.Millisecond):
				require.True(t, test.result)

				rtt := mgr.RTT().UnwrapOrFail(t)
				require.Equal(t, time.Second, rtt)

			case <-failed:
				require.False(t, test.result)
				require.True(t, mgr.RTT().IsNone())
			}
		})
	}
}
