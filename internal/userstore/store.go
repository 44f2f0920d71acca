// Package userstore exposes the user record boundary. Durable storage lives
// in an external service; the routing core only needs best-effort updates of
// running apps, last location, and per-app settings.
package userstore

import (
	"context"
	"sync"
)

// Store is the user record boundary.
type Store interface {
	AddRunningApp(ctx context.Context, userID, packageName string) error
	RemoveRunningApp(ctx context.Context, userID, packageName string) error
	SetLocation(ctx context.Context, userID string, lat, lng float64) error
	GetAppSettings(ctx context.Context, userID, packageName string) (map[string]any, error)
}

// Memory is an in-memory Store used in development and tests.
type Memory struct {
	mu          sync.RWMutex
	runningApps map[string]map[string]struct{}        // userID -> set of packageNames
	locations   map[string][2]float64                 // userID -> lat,lng
	appSettings map[string]map[string]map[string]any  // userID -> packageName -> settings
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runningApps: make(map[string]map[string]struct{}),
		locations:   make(map[string][2]float64),
		appSettings: make(map[string]map[string]map[string]any),
	}
}

// AddRunningApp records that an app is running for a user.
func (m *Memory) AddRunningApp(_ context.Context, userID, packageName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runningApps[userID] == nil {
		m.runningApps[userID] = make(map[string]struct{})
	}
	m.runningApps[userID][packageName] = struct{}{}
	return nil
}

// RemoveRunningApp removes an app from a user's running set.
func (m *Memory) RemoveRunningApp(_ context.Context, userID, packageName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runningApps[userID], packageName)
	return nil
}

// SetLocation stores the user's last known position.
func (m *Memory) SetLocation(_ context.Context, userID string, lat, lng float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[userID] = [2]float64{lat, lng}
	return nil
}

// GetAppSettings returns the persisted settings for one app, or an empty map.
func (m *Memory) GetAppSettings(_ context.Context, userID, packageName string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byApp, ok := m.appSettings[userID]; ok {
		if settings, ok := byApp[packageName]; ok {
			return settings, nil
		}
	}
	return map[string]any{}, nil
}

// SetAppSettings stores settings for one app. Used by tests and fixtures.
func (m *Memory) SetAppSettings(userID, packageName string, settings map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appSettings[userID] == nil {
		m.appSettings[userID] = make(map[string]map[string]any)
	}
	m.appSettings[userID][packageName] = settings
}

// RunningApps returns the running set for a user. Used by tests.
func (m *Memory) RunningApps(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	apps := make([]string, 0, len(m.runningApps[userID]))
	for p := range m.runningApps[userID] {
		apps = append(apps, p)
	}
	return apps
}
