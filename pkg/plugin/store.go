package plugin

import "context"

// Entry is one key-value pair from a plugin's namespace.
type Entry struct {
	Key   string
	Value []byte
}

// DataStore is a plugin's private JSON key-value namespace. The kernel
// scopes every operation to the owning plugin; keys from other plugins are
// unreachable.
type DataStore interface {
	// Save marshals value as JSON and writes it under key (atomic upsert).
	Save(ctx context.Context, key string, value any) error

	// Load reads key and unmarshals into dest. Returns an error satisfying
	// errors.Is(err, ErrNoSuchKey) when the key is absent.
	Load(ctx context.Context, key string, dest any) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the entries whose keys start with prefix, ordered by key
	// descending (newest first for timestamp-ordered keys).
	List(ctx context.Context, prefix string) ([]Entry, error)
}
