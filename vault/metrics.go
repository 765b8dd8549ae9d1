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

package vault

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type vaultMetrics struct {
	operations *prometheus.CounterVec
	unlocked   prometheus.Gauge
	keys       prometheus.Gauge
}

func initMetrics(promRegistry prometheus.Registerer) *vaultMetrics {
	promautoFactory := promauto.With(promRegistry)
	return &vaultMetrics{
		operations: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "multisig_vault_operations_total",
				Help: "vault operations by audit action and result",
			},
			[]string{"action", "result"},
		),
		unlocked: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "multisig_vault_unlocked",
				Help: "1 while the vault is unlocked",
			},
		),
		keys: promautoFactory.NewGauge(
			prometheus.GaugeOpts{
				Name: "multisig_vault_keys",
				Help: "number of custodied keys",
			},
		),
	}
}

func (v *Vault) updateStateMetric() {
	if v.metrics == nil {
		return
	}
	if v.state == StateUnlocked {
		v.metrics.unlocked.Set(1)
	} else {
		v.metrics.unlocked.Set(0)
	}
}

func (v *Vault) updateKeysMetric(ctx context.Context) {
	if v.metrics == nil {
		return
	}
	keys, err := v.store.ListKeys(ctx)
	if err != nil {
		return
	}
	v.metrics.keys.Set(float64(len(keys)))
}
