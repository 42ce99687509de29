package api

import (
	"context"

	"github.com/lysyi3m/tag-comb/app/engine"
	"github.com/lysyi3m/tag-comb/app/feed"
	"github.com/lysyi3m/tag-comb/app/profile"
	"github.com/lysyi3m/tag-comb/app/store"
)

type StoreInterface interface {
	engine.TagStore
	HiddenSet(ctx context.Context) map[string]struct{}
	SetHidden(ctx context.Context, tags []string) []string
	RemoveHiddenTag(ctx context.Context, tag string) []string
	GetGroupsMap(ctx context.Context) map[string]string
	SetGroupsMap(ctx context.Context, groups map[string]string) map[string]string
	ExportHidden(ctx context.Context) ([]byte, error)
	ImportHidden(ctx context.Context, data []byte) ([]string, error)
	ExportGroups(ctx context.Context) ([]byte, error)
	ImportGroups(ctx context.Context, data []byte) (map[string]string, error)
}

var _ StoreInterface = (*store.Store)(nil)

type ProfileCacheInterface interface {
	GetProfile(name string) (*profile.Profile, error)
	GetProfileCount() int
}

var _ ProfileCacheInterface = (*profile.Cache)(nil)

type Handler struct {
	store          StoreInterface
	profiles       ProfileCacheInterface
	defaultProfile string
	processor      *feed.Processor
	broker         *Broker
	onChange       func()
}

type tagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

type groupsRequest struct {
	Groups map[string]string `json:"groups"`
}

// interactRequest carries a page and one gesture on it. Target is a CSS
// selector naming the node the gesture landed on; Locks maps work IDs to
// the hint shown on their locked banners.
type interactRequest struct {
	HTML   string            `json:"html" binding:"required"`
	Target string            `json:"target" binding:"required"`
	Kind   string            `json:"kind" binding:"required"`
	Key    string            `json:"key"`
	Alt    bool              `json:"alt"`
	Locks  map[string]string `json:"locks"`
}
