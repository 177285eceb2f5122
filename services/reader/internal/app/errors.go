package app

import "errors"

var (
	// ErrStoreRequired is returned by New without a KV store.
	ErrStoreRequired     = errors.New("kv store required")
	ErrUploadDirRequired = errors.New("upload dir required")
)
