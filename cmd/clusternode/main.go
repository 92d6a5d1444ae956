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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"clustercore.io/internal/affinity"
	"clustercore.io/internal/config"
	"clustercore.io/internal/dispatcher"
	"clustercore.io/internal/group"
	"clustercore.io/internal/k8s"
	"clustercore.io/internal/logging"
	"clustercore.io/internal/metrics"
	"clustercore.io/internal/singleton"
	clustercorev1 "clustercore.io/pkg/apis/v1"
)

// clusterIDSingleton is the value singleton that names the cluster.
const clusterIDSingleton = "clustercore.cluster-id"

// envInt parses an int from an environment variable, returning the
// default if the env var is not set or cannot be parsed.
func envInt(envVar string, defaultVal int) int {
	val, err := strconv.Atoi(os.Getenv(envVar))
	if err != nil {
		return defaultVal
	}
	return val
}

func envString(envVar string, defaultVal string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultVal
}

// defaultNodeName is the hostname plus a random suffix, so that
// restarts on the same host don't collide with the old incarnation.
func defaultNodeName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "clusternode"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func main() {
	logger := logging.Init()

	var (
		nodeName   = flag.String("node-name", os.Getenv("CLUSTERCORE_NODE_NAME"), "unique name of this member (default hostname plus a random suffix)")
		bindAddr   = flag.String("bind-addr", envString("CLUSTERCORE_BIND_ADDR", "0.0.0.0"), "memberlist bind address")
		bindPort   = flag.Int("bind-port", envInt("CLUSTERCORE_BIND_PORT", clustercorev1.DefaultGossipPort), "memberlist bind port")
		join       = flag.String("join", os.Getenv("CLUSTERCORE_JOIN"), "comma-separated host:port list of members to join")
		secret     = flag.String("secret", os.Getenv("CLUSTERCORE_SECRET"), "memberlist encryption key (16, 24 or 32 bytes)")
		namespace  = flag.String("k8s-namespace", os.Getenv("CLUSTERCORE_NAMESPACE"), "find peers among the pods in this namespace")
		selector   = flag.String("k8s-selector", envString("CLUSTERCORE_SELECTOR", clustercorev1.DefaultPeerSelector), "label selector of the peer pods")
		kubeconfig = flag.String("kubeconfig", os.Getenv("KUBECONFIG"), "absolute path to the kubeconfig file (only needed when running outside of k8s)")
		configPath = flag.String("config", os.Getenv("CLUSTERCORE_CONFIG"), "path to the singleton and affinity configuration file")
		host       = flag.String("host", os.Getenv("CLUSTERCORE_HOST"), "HTTP host address for Prometheus metrics")
		port       = flag.Int("port", envInt("CLUSTERCORE_PORT", clustercorev1.DefaultMetricsPort), "HTTP listening port for Prometheus metrics")
		logLevel   = flag.String("log-level", envString("CLUSTERCORE_LOG_LEVEL", "info"), "debug, info, warn or error")
		interval   = flag.Duration("report-interval", time.Minute, "how often to log the cluster status")
	)
	flag.Parse()

	logger, err := logging.Filter(logger, *logLevel)
	if err != nil {
		log.NewJSONLogger(os.Stdout).Log("op", "startup", "error", err, "msg", "bad log level")
		os.Exit(1)
	}
	if *nodeName == "" {
		*nodeName = defaultNodeName()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to load configuration")
		os.Exit(1)
	}

	table := dispatcher.NewCommandTable()
	if err := singleton.RegisterCommands(table); err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to register commands")
		os.Exit(1)
	}
	transport := dispatcher.NewMemberlistTransport(table, logger)

	var key []byte
	if *secret != "" {
		key = []byte(*secret)
	}
	members, err := group.NewMemberlist(group.Config{
		NodeName: *nodeName,
		BindAddr: *bindAddr,
		BindPort: *bindPort,
		Secret:   key,
		Delegate: transport,
		Logger:   logger,
	})
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to create memberlist")
		os.Exit(1)
	}
	transport.Attach(members.List())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	peers := splitPeers(*join)
	if *namespace != "" {
		found, err := discoverPeers(ctx, *kubeconfig, *namespace, *selector, *bindPort, logger)
		if err != nil {
			logger.Log("op", "startup", "error", err, "msg", "peer discovery failed")
		}
		peers = append(peers, found...)
	}
	if len(peers) > 0 {
		n, err := members.Join(peers)
		logger.Log("op", "startup", "msg", "memberlist join", "joined", n, "error", err)
	}

	factory := dispatcher.NewFactory(members, transport, logger)
	coordinator, err := singleton.New(singleton.Config{
		Group:    members,
		Registry: dispatcher.NewRegistry(factory),
		Logger:   logger,
	})
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to create coordinator")
		os.Exit(1)
	}

	for _, p := range cfg.Singletons {
		policy, eligible, err := config.Policy(p)
		if err == nil {
			err = coordinator.Start(p.Name, &logService{name: p.Name, logger: logger}, eligible, policy)
		}
		if err != nil {
			logger.Log("op", "startup", "service", p.Name, "error", err, "msg", "failed to start singleton")
			os.Exit(1)
		}
	}
	if err := coordinator.StartValue(clusterIDSingleton, func() (interface{}, error) {
		return uuid.NewString(), nil
	}, nil, singleton.SimplePolicy{}); err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to start cluster id singleton")
		os.Exit(1)
	}

	keys, err := affinity.NewManager(members, cfg.Affinity.Segments, affinity.Config[string]{
		Generator:  uuid.NewString,
		Encoder:    func(k string) []byte { return []byte(k) },
		BufferSize: cfg.Affinity.BufferSize,
		Logger:     logger,
	})
	if err != nil {
		logger.Log("op", "startup", "error", err, "msg", "failed to create key affinity manager")
		os.Exit(1)
	}
	keys.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Run(gctx, *host, *port)
	})
	g.Go(func() error {
		report(gctx, *interval, members, coordinator, keys, cfg, logger)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Log("op", "run", "error", err, "msg", "exiting")
	}

	logger.Log("op", "shutdown", "msg", "starting shutdown")
	keys.Close()
	if err := coordinator.Close(); err != nil {
		logger.Log("op", "shutdown", "error", err, "msg", "failed to stop singletons")
	}
	factory.Close()
	if err := members.Shutdown(); err != nil {
		logger.Log("op", "shutdown", "error", err, "msg", "failed to leave the cluster")
	}
	logger.Log("op", "shutdown", "msg", "shutdown complete")
}

func splitPeers(list string) []string {
	peers := []string{}
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func discoverPeers(ctx context.Context, kubeconfig, namespace, selector string, port int, logger log.Logger) ([]string, error) {
	client, err := k8s.NewClient(kubeconfig)
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	d := &k8s.Discovery{
		Client:    client,
		Namespace: namespace,
		Selector:  selector,
		Port:      port,
		Self:      hostname,
		Logger:    logger,
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return d.Peers(ctx)
}
