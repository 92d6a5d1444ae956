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

// Package "config" provides code for parsing and validating
// configuration data.
package config

import (
	utiljson "encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/golang/glog"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"

	"clustercore.io/internal/group"
	"clustercore.io/internal/singleton"
	clustercorev1 "clustercore.io/pkg/apis/v1"
)

// Load reads the configuration file at path. A missing file, or an
// empty path, gives the default configuration.
func Load(path string) (*clustercorev1.Config, error) {
	if path == "" {
		return &clustercorev1.Config{}, nil
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		glog.V(2).Infof("no config file found at %q, using default values", path)
		return &clustercorev1.Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("config file found at %q", path)

	return Parse(raw)
}

// Parse parses and validates a YAML or JSON configuration.
func Parse(raw []byte) (*clustercorev1.Config, error) {
	json, err := utilyaml.ToJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &clustercorev1.Config{}
	if err := utiljson.Unmarshal(json, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	glog.V(2).Infof("using config: %s", string(json))
	return cfg, nil
}

// Validate checks cfg for mistakes that would only show up once a
// singleton is started.
func Validate(cfg *clustercorev1.Config) error {
	seen := map[string]bool{}
	for i, p := range cfg.Singletons {
		if p.Name == "" {
			return fmt.Errorf("singleton #%d has no name", i+1)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate definition of singleton %q", p.Name)
		}
		seen[p.Name] = true

		if _, _, err := Policy(p); err != nil {
			return fmt.Errorf("singleton %q: %w", p.Name, err)
		}
	}

	if cfg.Affinity.Segments < 0 || cfg.Affinity.BufferSize < 0 {
		return fmt.Errorf("affinity segments and buffer size can't be negative")
	}

	return nil
}

// Policy builds the election policy and eligibility predicate that p
// describes.
func Policy(p clustercorev1.SingletonPolicy) (singleton.ElectionPolicy, singleton.Predicate, error) {
	prefs := make([]singleton.Preference, 0, len(p.Preferences))
	for i, pref := range p.Preferences {
		switch {
		case pref.Name != "" && pref.Pattern != "":
			return nil, nil, fmt.Errorf("preference #%d has both a name and a pattern", i+1)
		case pref.Name != "":
			prefs = append(prefs, singleton.NamePreference(pref.Name))
		case pref.Pattern != "":
			pp, err := singleton.NewPatternPreference(pref.Pattern)
			if err != nil {
				return nil, nil, err
			}
			prefs = append(prefs, pp)
		default:
			return nil, nil, fmt.Errorf("preference #%d is empty", i+1)
		}
	}

	if p.Quorum < 0 {
		return nil, nil, fmt.Errorf("quorum can't be negative")
	}

	var policy singleton.ElectionPolicy = singleton.SimplePolicy{Position: p.Position}
	if len(prefs) > 0 {
		policy = singleton.PreferredPolicy{Preferences: prefs, Fallback: policy}
	}
	if p.Quorum > 0 {
		policy = singleton.Quorum{Policy: policy, Size: p.Quorum}
	}

	if len(p.Eligible) == 0 {
		return policy, nil, nil
	}
	eligible := make([]*regexp.Regexp, len(p.Eligible))
	for i, expr := range p.Eligible {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, nil, fmt.Errorf("eligibility pattern %q: %w", expr, err)
		}
		eligible[i] = re
	}
	predicate := func(m group.Member) bool {
		for _, re := range eligible {
			if re.MatchString(string(m)) {
				return true
			}
		}
		return false
	}

	return policy, predicate, nil
}
