// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package admin

import (
	"encoding/json"
	"fmt"
)

// migrations maps a schema version to the step that lifts a raw record to
// the next version. Load applies steps in order until the record reaches
// SchemaVersion; merging over defaults happens afterwards.
var migrations = map[int]func(raw map[string]json.RawMessage) error{
	// v1 -> v2: allow/block lists were renamed from modelAllowlist and
	// modelBlocklist.
	1: func(raw map[string]json.RawMessage) error {
		if v, ok := raw["modelAllowlist"]; ok {
			raw["allowedModels"] = v
			delete(raw, "modelAllowlist")
		}
		if v, ok := raw["modelBlocklist"]; ok {
			raw["blockedModels"] = v
			delete(raw, "modelBlocklist")
		}
		return nil
	},
}

// migrate lifts a raw durable record to the current schema version.
// Records with no version field are treated as version 1. Records from a
// newer build than this one are rejected rather than silently dropped.
func migrate(raw map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	version := 1
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil || version < 1 {
			version = 1
		}
	}
	if version > SchemaVersion {
		return nil, fmt.Errorf("system config version %d is newer than this build supports (%d)", version, SchemaVersion)
	}

	for version < SchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return nil, fmt.Errorf("no migration from system config version %d", version)
		}
		if err := step(raw); err != nil {
			return nil, fmt.Errorf("migration from version %d failed: %w", version, err)
		}
		version++
	}

	vb, _ := json.Marshal(version)
	raw["version"] = vb
	return raw, nil
}
