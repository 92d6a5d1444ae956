// Copyright 2020 Acnodal, Inc.
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

package v1

const (
	// MetricsNamespace is the Prometheus metrics namespace for
	// clustercore.
	MetricsNamespace string = "clustercore"

	// GossipPortAnnotation on a node agent pod overrides the port that
	// peers use to reach its memberlist.
	GossipPortAnnotation string = "clustercore.io/gossip-port"

	// DefaultPeerSelector selects the node agent pods during peer
	// discovery.
	DefaultPeerSelector string = "app=clusternode"

	// DefaultGossipPort is the memberlist port.
	DefaultGossipPort int = 7946

	// DefaultMetricsPort is the port that serves /metrics.
	DefaultMetricsPort int = 7472
)
