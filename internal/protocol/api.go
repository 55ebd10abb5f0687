// Package protocol defines the API request/response types.
package protocol

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// LoginRequest is the body for POST /api/v1/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// FileEntry describes one file in a directory listing.
type FileEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Kind string `json:"kind"`
}

// ListingResponse is returned by GET /api/v1/files/{path...}.
// UsedPercent is only set on tenant home listings.
type ListingResponse struct {
	Path        string      `json:"path"`
	Parent      string      `json:"parent,omitempty"`
	Directories []string    `json:"directories"`
	Files       []FileEntry `json:"files"`
	UsedPercent *int        `json:"used_percent,omitempty"`
}

// CreateDirRequest is the body for POST /api/v1/dirs/{path...}.
type CreateDirRequest struct {
	Name string `json:"name"`
}

// UnpackRequest is the body for POST /api/v1/unpack/{path...}.
type UnpackRequest struct {
	Name string `json:"name"`
}

// StatusResponse acknowledges a mutating operation.
type StatusResponse struct {
	Status string `json:"status"`
	Name   string `json:"name,omitempty"`
}
