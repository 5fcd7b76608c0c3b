package types

// AnyVersion disables the optimistic concurrency check on Append.
const AnyVersion int64 = -1

// AppendOnlyStore is the contract shared by the file, blob and memory stores.
type AppendOnlyStore interface {
	// Append writes data to the stream. When expectedStreamVersion >= 0 it must
	// match the current stream version or a *ConcurrencyError is returned.
	Append(key string, data []byte, expectedStreamVersion int64) error

	// ReadRecords returns records of one stream with StreamVersion > afterStreamVersion.
	// Record Data is shared with the store and must not be modified.
	ReadRecords(key string, afterStreamVersion int64, maxCount int) ([]DataWithKey, error)

	// ReadAllRecords returns records of all streams with StoreVersion > afterStoreVersion.
	ReadAllRecords(afterStoreVersion int64, maxCount int) ([]DataWithKey, error)

	GetCurrentVersion() int64

	// ResetStore irreversibly deletes all data.
	ResetStore() error

	Initialize() error
	Close() error
}
