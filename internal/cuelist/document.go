/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cuelist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Save validates the cuelist and writes it to path. The encoding is
// chosen by extension: .yaml/.yml produce YAML, everything else JSON.
func (cl *Cuelist) Save(path string) error {
	if err := cl.Validate(); err != nil {
		return fmt.Errorf("cuelist invalid: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cuelist directory: %w", err)
	}

	data := cl.ToDict()
	var encoded []byte
	var err error
	if isYAMLPath(path) {
		encoded, err = yaml.Marshal(data)
	} else {
		encoded, err = json.MarshalIndent(data, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode cuelist: %w", err)
	}

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write cuelist: %w", err)
	}
	return nil
}

// Load reads, decodes, and validates a cuelist document.
func Load(path string) (*Cuelist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cuelist: %w", err)
	}

	var data map[string]any
	if isYAMLPath(path) {
		err = yaml.Unmarshal(raw, &data)
	} else {
		err = json.Unmarshal(raw, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode cuelist %s: %w", filepath.Base(path), err)
	}

	cl, err := FromDict(data)
	if err != nil {
		return nil, err
	}
	if err := cl.Validate(); err != nil {
		return nil, fmt.Errorf("cuelist %s invalid: %w", filepath.Base(path), err)
	}
	return cl, nil
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
