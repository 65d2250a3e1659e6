package scene

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MeshConfig describes how a mesh id is rendered.
type MeshConfig struct {
	ID    int32   `yaml:"id"`
	Name  string  `yaml:"name"`
	Color Color24 `yaml:"-"`
	RGB   []uint8 `yaml:"color"`
	Size  float32 `yaml:"size"`
}

// Database resolves mesh configuration ids.
type Database interface {
	MeshConfig(id int32) (MeshConfig, bool)
}

// MapDatabase is an in-memory Database safe for concurrent use.
type MapDatabase struct {
	mu      sync.RWMutex
	configs map[int32]MeshConfig
}

// NewMapDatabase creates a database holding configs.
func NewMapDatabase(configs ...MeshConfig) *MapDatabase {
	db := &MapDatabase{configs: make(map[int32]MeshConfig, len(configs))}
	for _, cfg := range configs {
		db.Put(cfg)
	}
	return db
}

// Put adds or replaces a configuration.
func (db *MapDatabase) Put(cfg MeshConfig) {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	db.mu.Lock()
	db.configs[cfg.ID] = cfg
	db.mu.Unlock()
}

// MeshConfig implements Database.
func (db *MapDatabase) MeshConfig(id int32) (MeshConfig, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	cfg, ok := db.configs[id]
	return cfg, ok
}

// Len returns the number of configurations.
func (db *MapDatabase) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.configs)
}

type databaseFile struct {
	Meshes []MeshConfig `yaml:"meshes"`
}

// LoadDatabase reads mesh configurations from a YAML file of the form
//
//	meshes:
//	  - id: 1
//	    name: cube
//	    color: [200, 40, 40]
//	    size: 1.5
func LoadDatabase(path string) (*MapDatabase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object database: %w", err)
	}
	return ParseDatabase(data)
}

// ParseDatabase parses the YAML form accepted by LoadDatabase.
func ParseDatabase(data []byte) (*MapDatabase, error) {
	var file databaseFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse object database: %w", err)
	}

	db := NewMapDatabase()
	for i, cfg := range file.Meshes {
		if _, exists := db.MeshConfig(cfg.ID); exists {
			return nil, fmt.Errorf("object database entry %d: duplicate mesh id %d", i, cfg.ID)
		}
		switch len(cfg.RGB) {
		case 0:
			cfg.Color = Color24{R: 200, G: 200, B: 200}
		case 3:
			cfg.Color = Color24{R: cfg.RGB[0], G: cfg.RGB[1], B: cfg.RGB[2]}
		default:
			return nil, fmt.Errorf("object database entry %d: color needs 3 components, got %d", i, len(cfg.RGB))
		}
		db.Put(cfg)
	}
	return db, nil
}
