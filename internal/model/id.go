package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidInstanceID is returned when an instance id cannot be decoded.
var ErrInvalidInstanceID = errors.New("invalid instance id")

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// InstanceID encodes a stored identifier into the public form handed to
// presentation layers: "<authority>:<namespace>/<identifier>".
func InstanceID(authority, namespace, id string) string {
	return authority + ":" + namespace + "/" + id
}

// ParseInstanceID strips the authority prefix and the namespace segment from
// an instance id. A bare identifier is returned unchanged with an empty
// namespace.
func ParseInstanceID(s string) (namespace, id string, err error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidInstanceID)
	}
	if !strings.ContainsAny(s, ":/") {
		return "", s, nil
	}

	_, rest, ok := strings.Cut(s, ":")
	if !ok {
		rest = s
	}
	namespace, id, ok = strings.Cut(rest, "/")
	if !ok || namespace == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidInstanceID, s)
	}
	return namespace, id, nil
}
