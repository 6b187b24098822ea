package sessions

import "errors"

// ErrNotFound is returned by Repo.Get for an absent key.
var ErrNotFound = errors.New("not found")

// Repo is the durable key/value storage behind the Store.
type Repo interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(key string) (string, error)

	// Write stores set and removes remove as one atomic change. Removing an
	// absent key is not an error.
	Write(set map[string]string, remove []string) error
}
