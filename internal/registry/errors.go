package registry

import "errors"

// ErrNotFound means the image has never been pulled (or has no repo digest);
// it is distinct from a failed lookup.
var ErrNotFound = errors.New("image not present locally")

// ErrUnavailable covers every remote failure: network errors, non-2xx
// responses and malformed payloads. It never means "digest differs".
var ErrUnavailable = errors.New("remote digest unavailable")
