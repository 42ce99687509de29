package store

import (
	"fmt"
	"log/slog"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendMemory = "memory"

	MirrorMemory = "memory"
	MirrorFile   = "file"
)

type Options struct {
	Backend    string
	DBPath     string
	BadgerDir  string
	RedisURL   string
	Mirror     string
	MirrorPath string
	Namespace  string
}

// Open builds a Store from options, opening the selected backends.
func Open(opts Options) (*Store, error) {
	durable, err := openBackend(opts)
	if err != nil {
		return nil, err
	}

	mirror, err := openMirror(opts)
	if err != nil {
		durable.Close()
		return nil, err
	}

	slog.Debug("Store opened", "backend", opts.Backend, "mirror", opts.Mirror, "namespace", opts.Namespace)
	return New(durable, mirror, opts.Namespace), nil
}

func openBackend(opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(opts.DBPath)
	case BackendBadger:
		return OpenBadger(BadgerConfig{
			Path:       opts.BadgerDir,
			SyncWrites: true,
			Logger:     slog.Default().With("component", "badger"),
		})
	case BackendRedis:
		return OpenRedis(opts.RedisURL)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}

func openMirror(opts Options) (Mirror, error) {
	switch opts.Mirror {
	case MirrorMemory, "":
		return NewMemory(), nil
	case MirrorFile:
		return NewFileMirror(opts.MirrorPath)
	default:
		return nil, fmt.Errorf("unknown mirror backend: %s", opts.Mirror)
	}
}
