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
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPeers(t *testing.T) {
	assert.Equal(t, []string{}, splitPeers(""))
	assert.Equal(t, []string{"10.0.0.1:7946", "node-b:7946"}, splitPeers(" 10.0.0.1:7946, ,node-b:7946,"))
}

func TestDefaultNodeName(t *testing.T) {
	host, err := os.Hostname()
	if err != nil {
		t.Skip("no hostname")
	}
	a, b := defaultNodeName(), defaultNodeName()
	assert.True(t, strings.HasPrefix(a, host+"-"))
	assert.Len(t, a, len(host)+9)
	assert.NotEqual(t, a, b, "restarts get a new name")
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("CLUSTERCORE_TEST_PORT", "9000")
	t.Setenv("CLUSTERCORE_TEST_BAD", "nine")
	assert.Equal(t, 9000, envInt("CLUSTERCORE_TEST_PORT", 1))
	assert.Equal(t, 1, envInt("CLUSTERCORE_TEST_BAD", 1))
	assert.Equal(t, "x", envString("CLUSTERCORE_TEST_UNSET", "x"))
}
