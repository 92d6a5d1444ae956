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

package dispatcher

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

const subsystem = "dispatcher"

const (
	outcomeSuccess     = "success"
	outcomeFailed      = "command_error"
	outcomeCancelled   = "cancelled"
	outcomeUndelivered = "delivery_error"
)

var (
	commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "commands_total",
		Help:      "Number of commands resolved, by outcome",
	}, []string{"outcome"})

	inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "commands_in_flight",
		Help:      "Number of commands waiting for a reply",
	})

	// shared tracks the number of live dispatchers in all Registries.
	shared = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "shared_dispatchers",
		Help:      "Number of live dispatchers held by registries",
	})
)

func init() {
	prometheus.MustRegister(commands)
	prometheus.MustRegister(inflight)
	prometheus.MustRegister(shared)
}

func recordOutcome(outcome string) {
	commands.WithLabelValues(outcome).Inc()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case IsCancelled(err):
		return outcomeCancelled
	case IsDeliveryError(err):
		return outcomeUndelivered
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		return outcomeFailed
	}
	return outcomeUndelivered
}
