// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics used in monitoring service.
var (
	openRounds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of rounds in input registration",
			Name:      "open_rounds",
			Namespace: "btcjoin",
		},
	)

	activeRounds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of rounds that have not terminated",
			Name:      "active_rounds",
			Namespace: "btcjoin",
		},
	)

	registeredInputs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Number of inputs registered in active rounds",
			Name:      "registered_inputs",
			Namespace: "btcjoin",
		},
	)

	roundsTerminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of terminated rounds by outcome",
			Name:      "rounds_terminated_total",
			Namespace: "btcjoin",
		},
		[]string{"outcome", "phase"},
	)

	bannedOutputs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of outputs banned for not signing",
			Name:      "banned_outputs_total",
			Namespace: "btcjoin",
		},
	)

	denominationGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Denomination of new rounds in satoshis",
			Name:      "denomination_sats",
			Namespace: "btcjoin",
		},
	)

	feeRateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Help:      "Fee rate of new rounds in sat/kvB",
			Name:      "fee_rate",
			Namespace: "btcjoin",
		},
	)
)

func init() {
	prometheus.MustRegister(
		openRounds,
		activeRounds,
		registeredInputs,
		roundsTerminated,
		bannedOutputs,
		denominationGauge,
		feeRateGauge,
	)
}
