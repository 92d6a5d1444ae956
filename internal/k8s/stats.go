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

package k8s

import (
	"github.com/prometheus/client_golang/prometheus"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

const subsystem = "k8s_discovery"

var (
	lookups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "lookups_total",
		Help:      "Number of peer lookups.",
	})

	lookupErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "lookup_errors_total",
		Help:      "Number of peer lookups that failed.",
	})

	peerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "peers",
		Help:      "Number of peers found by the last successful lookup.",
	})
)

func init() {
	prometheus.MustRegister(lookups)
	prometheus.MustRegister(lookupErrors)
	prometheus.MustRegister(peerCount)
}
