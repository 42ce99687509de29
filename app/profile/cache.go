package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/lysyi3m/tag-comb/app/canon"
	"gopkg.in/yaml.v3"
)

// DefaultName is the built-in profile for archive-style listing pages.
const DefaultName = "ao3"

type Cache struct {
	profilesDir string
	cache       map[string]*Profile
	mu          sync.RWMutex
}

func NewCache(profilesDir string) *Cache {
	return &Cache{
		profilesDir: profilesDir,
		cache:       make(map[string]*Profile),
	}
}

// Default returns a fresh copy of the built-in profile.
func Default() *Profile {
	p := &Profile{Name: DefaultName}
	if err := prepare(p); err != nil {
		panic(fmt.Sprintf("built-in profile is invalid: %v", err))
	}
	return p
}

func (pc *Cache) Run() error {
	if _, err := os.Stat(pc.profilesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(pc.profilesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		name := fileName[:len(fileName)-4]

		p, err := pc.LoadProfile(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Profile loaded", "profile", name, "items", p.Items.Selector, "tags", p.Tags.Selector)
	}

	return nil
}

func (pc *Cache) LoadProfile(name string) (*Profile, error) {
	file := filepath.Join(pc.profilesDir, name+".yml")
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	p.Name = name

	if err := prepare(&p); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", file, err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cache[p.Name] = &p

	return &p, nil
}

// GetProfile returns a loaded profile. The built-in default is served when
// no file overrides it.
func (pc *Cache) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = DefaultName
	}

	pc.mu.RLock()
	p, ok := pc.cache[name]
	pc.mu.RUnlock()
	if ok {
		return p, nil
	}

	if name == DefaultName {
		return Default(), nil
	}
	return nil, fmt.Errorf("profile with name '%s' not found", name)
}

func (pc *Cache) GetProfiles() map[string]*Profile {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	profilesCopy := make(map[string]*Profile, len(pc.cache))
	for k, v := range pc.cache {
		profilesCopy[k] = v
	}
	return profilesCopy
}

func (pc *Cache) GetProfileCount() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.cache)
}

// prepare fills defaults, validates selectors and compiles patterns.
func prepare(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}

	if p.Items.Selector == "" {
		p.Items.Selector = "li.blurb"
	}
	if p.Items.Region == "" {
		p.Items.Region = "body"
	}
	if p.Tags.Selector == "" {
		p.Tags.Selector = "a.tag"
	}
	if p.Tags.Pattern == "" {
		p.Tags.Pattern = canon.DefaultPattern
	}
	if p.Tags.Markers == nil {
		p.Tags.Markers = canon.DefaultMarkers
	}
	if p.WorkID.AttrPattern == "" {
		p.WorkID.AttrPattern = `^(?:work|bookmark)_(\d+)$`
	}
	if p.WorkID.LinkPattern == "" {
		p.WorkID.LinkPattern = `/works/(\d+)`
	}
	if p.Display.ItemDisplay == "" {
		p.Display.ItemDisplay = "list-item"
	}

	selectors := map[string]string{
		"items selector":  p.Items.Selector,
		"region selector": p.Items.Region,
		"tags selector":   p.Tags.Selector,
	}
	for fieldName, sel := range selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("invalid %s %q: %w", fieldName, sel, err)
		}
	}

	c, err := canon.New(p.Tags.Pattern, p.Tags.Markers)
	if err != nil {
		return err
	}
	p.canonicalizer = c

	if p.idAttr, err = regexp.Compile(p.WorkID.AttrPattern); err != nil {
		return fmt.Errorf("invalid work id attr pattern: %w", err)
	}
	if p.idLink, err = regexp.Compile(p.WorkID.LinkPattern); err != nil {
		return fmt.Errorf("invalid work id link pattern: %w", err)
	}

	return nil
}
