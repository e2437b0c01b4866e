package tncfg

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxPeers is the default limit of simultaneous peers.
	DefaultMaxPeers = 30

	// DefaultBanDuration is how long a misbehaving host stays banned.
	DefaultBanDuration = time.Hour

	// DefaultBanThreshold is the ban score at which a host is banned.
	DefaultBanThreshold = 100

	// DefaultPingInterval is how often idle peers are pinged.
	DefaultPingInterval = time.Minute

	// DefaultPingTimeout is how long a peer may take to answer a ping.
	DefaultPingTimeout = 30 * time.Second

	// DefaultDrainTimeout bounds how long shutdown waits for in-flight
	// messages.
	DefaultDrainTimeout = 5 * time.Second
)

// P2P holds the peer to peer networking options.
//
//nolint:lll
type P2P struct {
	RawListeners []string `long:"listen" description:"Add an interface/port/socket to listen for peer connections"`

	RawConnectPeers []string `long:"connect" description:"Specify peers to connect to first, redialed whenever the link drops"`

	NoListen bool `long:"nolisten" description:"Disable listening for incoming peer connections"`

	MaxPeers int `long:"maxpeers" description:"The maximum number of simultaneous peers"`

	BanThreshold uint64 `long:"banthreshold" description:"The ban score at which a misbehaving host is banned. 0 disables banning"`

	BanDuration time.Duration `long:"banduration" description:"How long a misbehaving host stays banned"`

	PingInterval time.Duration `long:"pinginterval" description:"How often peers are pinged"`

	PingTimeout time.Duration `long:"pingtimeout" description:"How long a peer may take to answer a ping before it is dropped"`

	DrainTimeout time.Duration `long:"draintimeout" description:"How long shutdown waits for messages still being handled"`
}

// DefaultP2P returns the default peer to peer options.
func DefaultP2P() *P2P {
	return &P2P{
		RawListeners: []string{fmt.Sprintf(":%d", DefaultP2PPort)},
		MaxPeers:     DefaultMaxPeers,
		BanThreshold: DefaultBanThreshold,
		BanDuration:  DefaultBanDuration,
		PingInterval: DefaultPingInterval,
		PingTimeout:  DefaultPingTimeout,
		DrainTimeout: DefaultDrainTimeout,
	}
}

// Validate checks the peer to peer options.
func (p *P2P) Validate() error {
	switch {
	case p.MaxPeers < 1:
		return fmt.Errorf("maxpeers must be positive, got %d",
			p.MaxPeers)

	case p.PingInterval <= 0 || p.PingTimeout <= 0:
		return fmt.Errorf("ping interval and timeout must be positive")

	case p.PingTimeout >= p.PingInterval:
		return fmt.Errorf("ping timeout %v must be below the ping "+
			"interval %v", p.PingTimeout, p.PingInterval)

	case p.DrainTimeout <= 0:
		return fmt.Errorf("draintimeout must be positive")
	}

	return nil
}
