// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package affinity

import (
	"github.com/prometheus/client_golang/prometheus"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

const subsystem = "affinity"

var (
	keysGenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "keys_generated_total",
		Help:      "Number of keys generated",
	})

	// keysDiscarded counts keys that no queue wanted.
	keysDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "keys_discarded_total",
		Help:      "Number of generated keys that were dropped",
	})

	queueCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "queues",
		Help:      "Number of key queues in the most recent registry",
	})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "queue_depth",
		Help:      "Number of keys waiting in a member's queue",
	}, []string{"member"})
)

func init() {
	prometheus.MustRegister(keysGenerated)
	prometheus.MustRegister(keysDiscarded)
	prometheus.MustRegister(queueCount)
	prometheus.MustRegister(queueDepth)
}
