package fsops

import "errors"

// Operation outcome sentinels. OS-level permission denials surface as
// errors matching io/fs.ErrPermission through wrapping.
var (
	ErrNotFound      = errors.New("entry not found")
	ErrAlreadyExists = errors.New("entry already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrForbidden     = errors.New("operation forbidden")
	ErrUpload        = errors.New("upload failed")
)
