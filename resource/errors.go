package resource

import "errors"

var (
	ErrNotFound     = errors.New("resource table does not contain key")
	ErrTypeMismatch = errors.New("resource has unexpected type")
	ErrDuplicate    = errors.New("resource table already contains key")
	ErrNoSecrets    = errors.New("no secret store configured")
)
