// Package appstore exposes the application catalog boundary. The catalog
// itself is an external service; this package defines the interface the
// routing core consumes plus a YAML-seeded in-memory implementation used in
// development and tests.
package appstore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Permissions a TPA may declare. PermissionAll grants every stream.
const (
	PermissionMicrophone    = "microphone"
	PermissionLocation      = "location"
	PermissionCalendar      = "calendar"
	PermissionNotifications = "notifications"
	PermissionAll           = "ALL"
)

// ErrAppNotFound is returned when a package name is not in the catalog.
var ErrAppNotFound = errors.New("app not found")

// App describes a registered third-party application.
type App struct {
	PackageName string   `yaml:"packageName"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	PublicURL   string   `yaml:"publicUrl"`
	IsSystemApp bool     `yaml:"isSystemApp"`
	Permissions []string `yaml:"permissions"`

	// HashedAPIKey is hex(sha256(apiKey)). Plain keys never leave the
	// developer console.
	HashedAPIKey string `yaml:"hashedApiKey"`
}

// HasPermission reports whether the app declared the given permission.
func (a *App) HasPermission(permission string) bool {
	for _, p := range a.Permissions {
		if p == permission || p == PermissionAll {
			return true
		}
	}
	return false
}

// Catalog is the application catalog boundary.
type Catalog interface {
	// GetApp resolves a package name to its descriptor.
	GetApp(ctx context.Context, packageName string) (*App, error)

	// ValidateAPIKey checks a TPA init's API key. clientIP is provided so
	// implementations can apply per-origin policy.
	ValidateAPIKey(ctx context.Context, packageName, apiKey, clientIP string) (bool, error)
}

// MemoryCatalog is an in-memory Catalog seeded from a YAML file.
type MemoryCatalog struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{apps: make(map[string]*App)}
}

// LoadSeed reads a YAML seed file of registered apps.
func LoadSeed(path string) (*MemoryCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app seed: %w", err)
	}

	var seed struct {
		Apps []*App `yaml:"apps"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse app seed: %w", err)
	}

	c := NewMemoryCatalog()
	for _, app := range seed.Apps {
		if app.PackageName == "" {
			return nil, fmt.Errorf("app seed entry missing packageName")
		}
		c.Register(app)
	}
	return c, nil
}

// Register adds or replaces an app in the catalog.
func (c *MemoryCatalog) Register(app *App) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apps[app.PackageName] = app
}

// GetApp resolves a package name to its descriptor.
func (c *MemoryCatalog) GetApp(_ context.Context, packageName string) (*App, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	app, ok := c.apps[packageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, packageName)
	}
	return app, nil
}

// ValidateAPIKey compares the hash of the presented key with the stored one.
func (c *MemoryCatalog) ValidateAPIKey(ctx context.Context, packageName, apiKey, _ string) (bool, error) {
	app, err := c.GetApp(ctx, packageName)
	if err != nil {
		return false, err
	}
	if app.HashedAPIKey == "" || apiKey == "" {
		return false, nil
	}
	presented := HashAPIKey(apiKey)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(app.HashedAPIKey)) == 1, nil
}

// HashAPIKey returns hex(sha256(key)), the stored form of TPA API keys.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
