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
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"clustercore.io/internal/affinity"
	"clustercore.io/internal/group"
	"clustercore.io/internal/singleton"
	clustercorev1 "clustercore.io/pkg/apis/v1"
)

// logService is the service behind configured singletons. It only
// announces where the singleton runs; embedding applications replace
// it with real work.
type logService struct {
	name   string
	logger log.Logger
}

func (s *logService) Start() error {
	s.logger.Log("op", "singleton", "service", s.name, "msg", "primary on this member")
	return nil
}

func (s *logService) Stop() error {
	s.logger.Log("op", "singleton", "service", s.name, "msg", "no longer primary on this member")
	return nil
}

// report logs the state of the cluster every interval until ctx
// ends.
func report(ctx context.Context, interval time.Duration, members group.Group, coordinator *singleton.Coordinator, keys affinity.Service[string], cfg *clustercorev1.Config, logger log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(ctx, interval/2)

		view := members.Current()
		logger.Log("op", "report", "version", view.Version, "members", len(view.Members), "keyOwners", len(keys.Addresses()))

		if id, err := coordinator.Value(rctx, clusterIDSingleton); err == nil {
			logger.Log("op", "report", "cluster", id)
		} else {
			level.Debug(logger).Log("op", "report", "error", err, "msg", "cluster id not available yet")
		}

		for _, p := range cfg.Singletons {
			primary, err := coordinator.PrimaryProvider(rctx, p.Name)
			logger.Log("op", "report", "service", p.Name, "primary", primary, "error", err)
		}

		cancel()
	}
}
