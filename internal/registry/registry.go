// Package registry defines the work items driven by the cycle loop and the
// executor contract that performs one of them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateItem = errors.New("duplicate channel")
	ErrEmptyName     = errors.New("channel name is empty")
)

// ChannelConfig is the per-channel configuration handed to the executor.
// The cycle loop never looks inside it.
type ChannelConfig struct {
	// MaxPages bounds how many preview pages are fetched per cycle (0 = executor default).
	MaxPages int
	// Tags are free-form labels persisted alongside scraped posts.
	Tags []string
}

// Item is one unit of repeated work.
type Item struct {
	Name   string
	Config ChannelConfig
}

// Registry is an ordered, duplicate-free list of items.
// It is immutable once built.
type Registry struct {
	items []Item
}

// New validates and copies items in the given order.
func New(items ...Item) (Registry, error) {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for i, it := range items {
		name := NormalizeName(it.Name)
		if name == "" {
			return Registry{}, fmt.Errorf("item %d: %w", i, ErrEmptyName)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return Registry{}, fmt.Errorf("%w: %s", ErrDuplicateItem, name)
		}
		seen[key] = struct{}{}
		it.Name = name
		it.Config.Tags = append([]string(nil), it.Config.Tags...)
		out = append(out, it)
	}
	return Registry{items: out}, nil
}

// NormalizeName strips whitespace, a leading '@' and a t.me URL prefix.
func NormalizeName(raw string) string {
	s := strings.TrimSpace(raw)
	for _, p := range []string{"https://t.me/s/", "https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(strings.ToLower(s), p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	return strings.Trim(s, "/ ")
}

func (r Registry) Len() int { return len(r.items) }

func (r Registry) Empty() bool { return len(r.items) == 0 }

// Items returns a copy in registry order.
func (r Registry) Items() []Item {
	return append([]Item(nil), r.items...)
}

// Names returns item names in registry order.
func (r Registry) Names() []string {
	out := make([]string, len(r.items))
	for i, it := range r.items {
		out[i] = it.Name
	}
	return out
}

// Source yields the registry to use for the next cycle.
type Source interface {
	Snapshot(ctx context.Context) (Registry, error)
}

// Static is a Source that always returns the same registry.
type Static Registry

func (s Static) Snapshot(context.Context) (Registry, error) { return Registry(s), nil }

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Registry, error)

func (f SourceFunc) Snapshot(ctx context.Context) (Registry, error) { return f(ctx) }

// Executor performs the work for a single item.
//
// Contract:
//   - Initialize may fail; the service does not start the loop when it does.
//   - Execute may fail per item; failures never stop the loop.
//   - ShutdownHint is called from the signal goroutine and must not block.
//   - Teardown must be safe after a failed or partial Initialize.
type Executor interface {
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, item Item) error
	ShutdownHint()
	Teardown(ctx context.Context) error
}
