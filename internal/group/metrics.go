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

package group

import (
	"github.com/prometheus/client_golang/prometheus"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

const subsystem = "group"

var (
	// memberCount tracks the number of members in the current view.
	memberCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "member_count",
		Help:      "Number of members in the current view",
	})

	viewVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: clustercorev1.MetricsNamespace,
		Subsystem: subsystem,
		Name:      "view_version",
		Help:      "Version of the current view",
	})
)

func init() {
	prometheus.MustRegister(memberCount)
	prometheus.MustRegister(viewVersion)
}

// RecordView publishes the size and version of v.
func RecordView(v View) {
	memberCount.Set(float64(len(v.Members)))
	viewVersion.Set(float64(v.Version))
}
