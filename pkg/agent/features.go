// Copyright 2025 Strand Authors
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

package agent

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/strandkit/strand/pkg/pipeline"
)

// FeaturesEnvVar names the environment variable listing comma-separated
// system feature keys to auto-install with defaults.
const FeaturesEnvVar = "STRAND_FEATURES"

// FeatureFactory builds a system feature with default configuration.
type FeatureFactory func() pipeline.Feature

var (
	systemFeaturesMu sync.RWMutex
	systemFeatures   = make(map[pipeline.FeatureKey]FeatureFactory)
)

// RegisterSystemFeature makes a feature available for environment-driven
// installation. Feature packages call this from init.
func RegisterSystemFeature(key pipeline.FeatureKey, factory FeatureFactory) {
	systemFeaturesMu.Lock()
	defer systemFeaturesMu.Unlock()
	systemFeatures[key] = factory
}

// InstallSystemFeatures installs the features named by the environment and
// by extraKeys into the pipeline, with defaults. A feature the user already
// installed is skipped (the pipeline logs the skip), so user configuration
// always wins. Unknown keys are ignored with a warning.
func InstallSystemFeatures(pipe *pipeline.Pipeline, extraKeys ...string) {
	keys := append(splitFeatureList(os.Getenv(FeaturesEnvVar)), extraKeys...)

	systemFeaturesMu.RLock()
	defer systemFeaturesMu.RUnlock()

	for _, key := range keys {
		factory, ok := systemFeatures[pipeline.FeatureKey(key)]
		if !ok {
			slog.Warn("Ignoring unknown system feature", "feature", key)
			continue
		}
		if _, err := pipe.Install(factory()); err != nil {
			slog.Warn("Failed to install system feature", "feature", key, "error", err)
		}
	}
}

func splitFeatureList(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
