// Package settings is the persisted key/value store the PKI and session
// layers read their configuration from. Keys are dotted paths
// ("pki.enabled", "advanced.ignoreSslVerification") into a nested YAML
// document. Mutations notify subscribers synchronously with the changed
// key; subscribers receive an unsubscribe handle so owners can release
// their registration on shutdown.
package settings

// Store is the collaborator interface consumed by certstore, session
// and pki. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value at the dotted path, or def when absent.
	Get(path string, def any) any
	// Set writes the value at the dotted path and notifies subscribers.
	// The change is in-memory until Save is called.
	Set(path string, value any)
	// Save persists the current document.
	Save() error
	// OnChange registers fn to be called with each changed key. The
	// returned func removes the registration.
	OnChange(fn func(key string)) (unsubscribe func())
}

// Bool reads a boolean setting, tolerating absent or mistyped values.
func Bool(s Store, path string, def bool) bool {
	if v, ok := s.Get(path, def).(bool); ok {
		return v
	}
	return def
}

// String reads a string setting, tolerating absent or mistyped values.
func String(s Store, path string, def string) string {
	if v, ok := s.Get(path, def).(string); ok {
		return v
	}
	return def
}
