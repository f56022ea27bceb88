/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tollgate/tollgate/limits"
	"github.com/tollgate/tollgate/log"
)

// DecodeRuleSet decodes a YAML rule set. Unknown fields are rejected.
//
// Example:
//
//	configs:
//	  - {id: global, scope: global, rpm: 100, rph: 3000, burst: 20, burstWindow: 10s, active: true}
//	  - {id: premium, scope: class, target: premium, rpm: 1000, active: true}
//	overrides:
//	  - {id: o1, identity: alice, rpm: 5, expiresAt: 2025-12-31T00:00:00Z, active: true}
//	endpoints:
//	  - {id: search, pattern: "/api/search/*", method: GET, rpm: 10, active: true}
func DecodeRuleSet(r io.Reader) (limits.RuleSet, error) {
	var rules limits.RuleSet
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && err != io.EOF {
		return limits.RuleSet{}, fmt.Errorf("decode rule set: %w", err)
	}
	return rules, nil
}

// ReadRuleSetFile reads and decodes a YAML rule set file.
func ReadRuleSetFile(path string) (limits.RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return limits.RuleSet{}, err
	}
	defer func() { _ = f.Close() }()
	return DecodeRuleSet(f)
}

// File serves the rule set from a YAML file. The file is re-read when its modification time
// or size changes. If the changed file cannot be loaded, the previous rule set is kept.
type File struct {
	path   string
	logger log.FieldLogger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	rules   *Memory
}

// NewFile creates a new File store. The file must exist and contain a valid rule set.
func NewFile(path string, logger log.FieldLogger) (*File, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	f := &File{path: path, logger: logger}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	if err = f.load(fi); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load(fi os.FileInfo) error {
	rules, err := ReadRuleSetFile(f.path)
	if err != nil {
		return fmt.Errorf("read rules file %s: %w", f.path, err)
	}
	mem, err := NewMemory(rules)
	if err != nil {
		return fmt.Errorf("load rules file %s: %w", f.path, err)
	}
	f.rules = mem
	f.modTime = fi.ModTime()
	f.size = fi.Size()
	return nil
}

func (f *File) current() (*Memory, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if fi.ModTime().Equal(f.modTime) && fi.Size() == f.size {
		return f.rules, nil
	}
	if err = f.load(fi); err != nil {
		f.logger.Error("rules file is not reloaded, the previous rule set is kept", log.Error(err))
		f.modTime, f.size = fi.ModTime(), fi.Size()
		return f.rules, nil
	}
	f.logger.Info("rules file is reloaded", log.String("path", f.path))
	return f.rules, nil
}

// Configs returns global configs and the configs of the class.
func (f *File) Configs(ctx context.Context, class string) ([]limits.RateLimitConfig, error) {
	m, err := f.current()
	if err != nil {
		return nil, err
	}
	return m.Configs(ctx, class)
}

// Overrides returns the overrides of the identity.
func (f *File) Overrides(ctx context.Context, identity string) ([]limits.IdentityOverride, error) {
	m, err := f.current()
	if err != nil {
		return nil, err
	}
	return m.Overrides(ctx, identity)
}

// EndpointRules returns all endpoint rules.
func (f *File) EndpointRules(ctx context.Context) ([]limits.EndpointRule, error) {
	m, err := f.current()
	if err != nil {
		return nil, err
	}
	return m.EndpointRules(ctx)
}

// Ping checks that the rules file is still accessible.
func (f *File) Ping(context.Context) error {
	_, err := os.Stat(f.path)
	return err
}

// Close does nothing.
func (f *File) Close() error {
	return nil
}
