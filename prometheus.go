package tnd

import (
	"github.com/lightningnetwork/lnd/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tronnode/tnd/build"
)

// registerNodeStats adds the node level gauges to reg: the running version,
// the uptime, the number of peers, the chain height and the pool size.
func registerNodeStats(reg prometheus.Registerer, s *server,
	clk clock.Clock) error {

	versionGauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tnd_version",
			Help: "Version of tnd running.",
		},
		[]string{"version", "commit"},
	)
	versionGauge.WithLabelValues(build.Version(), build.Commit).Set(1)

	startTime := clk.Now()

	collectors := []prometheus.Collector{
		versionGauge,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tnd_uptime",
				Help: "Uptime of tnd in seconds.",
			},
			func() float64 {
				return clk.Now().Sub(startTime).Seconds()
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tnd_peers",
				Help: "Number of connected peers.",
			},
			func() float64 {
				return float64(len(s.connMgr.Peers()))
			},
		),

		// Could be a counter, but the head may move back on a
		// reorganization.
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tnd_block_height",
				Help: "Height of the best chain.",
			},
			func() float64 {
				return float64(s.chain.Head().Num)
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tnd_pooled_txs",
				Help: "Transactions waiting for a block.",
			},
			func() float64 {
				return float64(s.chain.Pool().Len())
			},
		),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
