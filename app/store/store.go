package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lysyi3m/tag-comb/app/canon"
)

var (
	// ErrNotFound is returned by backends for missing keys.
	ErrNotFound = errors.New("key not found")
	// ErrInvalidImport is returned when imported data is not valid JSON of
	// the expected shape. No state is changed when it is returned.
	ErrInvalidImport = errors.New("invalid import data")
)

// Backend is the durable, possibly slow, storage the Store writes through to.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Mirror is the synchronous fallback cache consulted while the durable
// backend has nothing to offer.
type Mirror interface {
	Load(key string) ([]byte, bool)
	Save(key string, value []byte) error
}

// Store owns the hidden tag set and the tag to group mapping. Writes go to
// both the durable backend and the mirror using the same JSON encoding.
//
// Writers in other processes are not coordinated with: the last write wins.
type Store struct {
	durable   Backend
	mirror    Mirror
	hiddenKey string
	groupsKey string

	// serialises read-modify-write cycles within this process
	mu sync.Mutex
}

func New(durable Backend, mirror Mirror, namespace string) *Store {
	if namespace == "" {
		namespace = "tagcomb"
	}
	return &Store{
		durable:   durable,
		mirror:    mirror,
		hiddenKey: namespace + ":hidden",
		groupsKey: namespace + ":groups",
	}
}

func (s *Store) HiddenKey() string { return s.hiddenKey }
func (s *Store) GroupsKey() string { return s.groupsKey }

func (s *Store) Close() error {
	if s.durable == nil {
		return nil
	}
	return s.durable.Close()
}

// GetHidden returns the blocklist. It falls back to the mirror when the
// durable backend is empty or failing.
func (s *Store) GetHidden(ctx context.Context) []string {
	if tags := decodeTags(s.readDurable(ctx, s.hiddenKey)); len(tags) > 0 {
		return tags
	}
	return decodeTags(s.readMirror(s.hiddenKey))
}

// HiddenSet is GetHidden as a lookup set.
func (s *Store) HiddenSet(ctx context.Context) map[string]struct{} {
	tags := s.GetHidden(ctx)
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// SetHidden cleans, deduplicates and stores tags, returning the stored list.
func (s *Store) SetHidden(ctx context.Context, tags []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHidden(ctx, tags)
}

func (s *Store) setHidden(ctx context.Context, tags []string) []string {
	cleaned := canon.CleanAll(tags)
	data, err := json.Marshal(cleaned)
	if err != nil {
		slog.Warn("Failed to encode hidden tags", "error", err)
		return cleaned
	}
	s.write(ctx, s.hiddenKey, data)
	return cleaned
}

// AddHiddenTag appends tag to the blocklist; adding a present tag is a no-op
// apart from rewriting the same list.
func (s *Store) AddHiddenTag(ctx context.Context, tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHidden(ctx, append(s.GetHidden(ctx), tag))
}

func (s *Store) RemoveHiddenTag(ctx context.Context, tag string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := canon.Clean(tag)
	current := s.GetHidden(ctx)
	kept := make([]string, 0, len(current))
	for _, t := range current {
		if t != target {
			kept = append(kept, t)
		}
	}
	return s.setHidden(ctx, kept)
}

func (s *Store) GetGroupsMap(ctx context.Context) map[string]string {
	if groups := decodeGroups(s.readDurable(ctx, s.groupsKey)); len(groups) > 0 {
		return groups
	}
	return decodeGroups(s.readMirror(s.groupsKey))
}

// SetGroupsMap stores groups, dropping every key that is not currently a
// hidden tag. The stored map is returned.
func (s *Store) SetGroupsMap(ctx context.Context, groups map[string]string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setGroupsMap(ctx, groups)
}

func (s *Store) setGroupsMap(ctx context.Context, groups map[string]string) map[string]string {
	hidden := s.HiddenSet(ctx)
	kept := make(map[string]string, len(groups))
	for tag, label := range groups {
		key := canon.Clean(tag)
		if _, ok := hidden[key]; !ok {
			continue
		}
		kept[key] = strings.TrimSpace(label)
	}

	data, err := json.Marshal(kept)
	if err != nil {
		slog.Warn("Failed to encode groups map", "error", err)
		return kept
	}
	s.write(ctx, s.groupsKey, data)
	return kept
}

func (s *Store) ExportHidden(ctx context.Context) ([]byte, error) {
	data, err := json.Marshal(s.GetHidden(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to export hidden tags: %w", err)
	}
	return data, nil
}

// ImportHidden unions a JSON array of tags into the blocklist.
func (s *Store) ImportHidden(ctx context.Context, data []byte) ([]string, error) {
	var raw []any
	if err := decodeStrict(data, &raw, '['); err != nil {
		return nil, err
	}

	incoming := make([]string, 0, len(raw))
	for i, v := range raw {
		tag, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d is not a string", ErrInvalidImport, i)
		}
		incoming = append(incoming, tag)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setHidden(ctx, append(s.GetHidden(ctx), incoming...)), nil
}

func (s *Store) ExportGroups(ctx context.Context) ([]byte, error) {
	data, err := json.Marshal(s.GetGroupsMap(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to export groups: %w", err)
	}
	return data, nil
}

// ImportGroups merges a JSON object of tag to label into the groups map.
// Entries for tags that are not hidden are dropped as usual.
func (s *Store) ImportGroups(ctx context.Context, data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := decodeStrict(data, &raw, '{'); err != nil {
		return nil, err
	}

	incoming := make(map[string]string, len(raw))
	for tag, v := range raw {
		label, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: label for %q is not a string", ErrInvalidImport, tag)
		}
		incoming[tag] = label
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.GetGroupsMap(ctx)
	for tag, label := range incoming {
		merged[tag] = label
	}
	return s.setGroupsMap(ctx, merged), nil
}

func (s *Store) readDurable(ctx context.Context, key string) []byte {
	if s.durable == nil {
		return nil
	}
	data, err := s.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("Durable store read failed", "key", key, "error", err)
		}
		return nil
	}
	return data
}

func (s *Store) readMirror(key string) []byte {
	if s.mirror == nil {
		return nil
	}
	data, ok := s.mirror.Load(key)
	if !ok {
		return nil
	}
	return data
}

func (s *Store) write(ctx context.Context, key string, data []byte) {
	if s.durable != nil {
		if err := s.durable.Set(ctx, key, data); err != nil {
			slog.Warn("Durable store write failed", "key", key, "error", err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Save(key, data); err != nil {
			slog.Warn("Mirror write failed", "key", key, "error", err)
		}
	}
}

func decodeTags(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		slog.Warn("Stored hidden tags are unreadable", "error", err)
		return []string{}
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func decodeGroups(data []byte) map[string]string {
	groups := make(map[string]string)
	if len(data) == 0 {
		return groups
	}
	if err := json.Unmarshal(data, &groups); err != nil {
		slog.Warn("Stored groups map is unreadable", "error", err)
		return make(map[string]string)
	}
	// a stored null decodes to a nil map
	if groups == nil {
		groups = make(map[string]string)
	}
	return groups
}

// decodeStrict requires the top-level JSON value to open with want.
func decodeStrict(data []byte, v any, want byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != want {
		return fmt.Errorf("%w: unexpected top-level value", ErrInvalidImport)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	return nil
}
