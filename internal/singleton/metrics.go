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

package singleton

import (
	"github.com/prometheus/client_golang/prometheus"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

const subsystem = "singleton"

var (
	// elections counts the elections this member coordinated.
	elections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "elections_total",
		Help:      "Number of elections coordinated by this member, per singleton",
	}, []string{"service"})

	primaryChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "primary_changes_total",
		Help:      "Number of times this member elected a different primary, per singleton",
	}, []string{"service"})

	// primary is 1 while the singleton runs on this member.
	primary = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "primary",
		Help:      "1 if this member is the primary for the singleton, 0 otherwise",
	}, []string{"service"})
)

func init() {
	prometheus.MustRegister(elections)
	prometheus.MustRegister(primaryChanges)
	prometheus.MustRegister(primary)
}
