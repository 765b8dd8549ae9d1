// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proposal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	created     *prometheus.CounterVec
	signatures  *prometheus.CounterVec
	broadcasts  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
}

func (c *Coordinator) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	c.metrics = &coordinatorMetrics{
		created: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_proposals_created_total",
				Help: "total proposals created",
			},
			[]string{"network"},
		),
		signatures: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_proposal_signatures_total",
				Help: "total signatures accepted",
			},
			[]string{"network"},
		),
		broadcasts: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_proposal_broadcasts_total",
				Help: "broadcast attempts by result",
			},
			[]string{"network", "result"},
		),
		transitions: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_proposal_status_transitions_total",
				Help: "status changes observed while polling",
			},
			[]string{"network", "status"},
		),
		pollErrors: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_proposal_poll_errors_total",
				Help: "status queries that failed and were treated as pending",
			},
			[]string{"network"},
		),
	}
}
