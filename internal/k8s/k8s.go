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

// Package k8s finds memberlist peers by listing the node agent pods
// in a Kubernetes namespace.
package k8s

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	clustercorev1 "clustercore.io/pkg/apis/v1"
)

// NewClient returns a clientset for the cluster described by
// kubeconfig, or for the cluster we're running in if kubeconfig is
// empty.
func NewClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		k8sConfig *rest.Config
		err       error
	)

	k8sConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("building client config: %s", err)
	}
	clientset, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("creating Kubernetes client: %s", err)
	}

	return clientset, nil
}

// Discovery finds peers among the pods that match a label selector.
type Discovery struct {
	Client    kubernetes.Interface
	Namespace string

	// Selector is a label selector; empty means
	// DefaultPeerSelector.
	Selector string

	// Port is the memberlist port of pods that don't override it
	// with the GossipPortAnnotation.
	Port int

	// Self is the name of our own pod, which is left out.
	Self   string
	Logger log.Logger
}

// Peers returns the host:port addresses of the running pods that
// match the selector, sorted.
func (d *Discovery) Peers(ctx context.Context) ([]string, error) {
	selector := d.Selector
	if selector == "" {
		selector = clustercorev1.DefaultPeerSelector
	}
	port := d.Port
	if port == 0 {
		port = clustercorev1.DefaultGossipPort
	}

	lookups.Inc()
	pods, err := d.Client.CoreV1().Pods(d.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		lookupErrors.Inc()
		return nil, fmt.Errorf("listing peers in %q: %w", d.Namespace, err)
	}

	peers := []string{}
	for _, pod := range pods.Items {
		if pod.Name == d.Self || pod.Status.Phase != corev1.PodRunning || pod.Status.PodIP == "" {
			continue
		}

		podPort := port
		if raw, ok := pod.Annotations[clustercorev1.GossipPortAnnotation]; ok {
			p, err := strconv.Atoi(raw)
			if err != nil || p <= 0 || p > 65535 {
				if d.Logger != nil {
					level.Warn(d.Logger).Log("op", "discovery", "pod", pod.Name, "annotation", raw, "msg", "ignoring bad gossip port")
				}
			} else {
				podPort = p
			}
		}

		peers = append(peers, net.JoinHostPort(pod.Status.PodIP, strconv.Itoa(podPort)))
	}
	sort.Strings(peers)
	peerCount.Set(float64(len(peers)))

	return peers, nil
}
