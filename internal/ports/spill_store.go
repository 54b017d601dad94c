package ports

// SpillStore is an append-only blob on local storage.
type SpillStore interface {
	// Append adds data to the end of the blob, creating it if needed.
	Append(data []byte) error

	// ReadAll returns the full content. Returns nil, nil if absent.
	ReadAll() ([]byte, error)

	// Remove deletes the blob. Removing an absent blob is not an error.
	Remove() error

	// Exists reports whether the blob holds any data.
	Exists() bool
}
