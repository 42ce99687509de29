package cfg

import "time"

type Cfg struct {
	// Storage configuration
	StoreBackend string
	DBPath       string
	BadgerDir    string
	RedisURL     string
	Mirror       string
	MirrorPath   string
	Namespace    string

	// Page handling
	ProfilesDir string
	Profile     string
	Debounce    time.Duration

	// HTTP configuration
	Port         string
	BaseUrl      string
	APIAccessKey string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
