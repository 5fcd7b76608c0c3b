package types

import "fmt"

// DataWithKey is a stored record enriched with its positions in the stream and in the store.
type DataWithKey struct {
	Key           string
	Data          []byte
	StreamVersion int64
	StoreVersion  int64
}

func (d DataWithKey) String() string {
	return fmt.Sprintf("%s@%d (store %d, %d bytes)", d.Key, d.StreamVersion, d.StoreVersion, len(d.Data))
}
