// Package storage implements the key/value layer jobs persist into. Keys are
// a namespace, an opaque identifier and an optional attribute path; values
// are raw bytes. A missing key is reported as absent, never as an error.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrStorage is matched by every error a Backend returns.
var ErrStorage = errors.New("storage error")

// ErrInvalidKey is returned for keys with empty or unsafe components.
var ErrInvalidKey = errors.New("invalid key")

// Error describes a failed backend operation.
type Error struct {
	Op  string
	Key Key
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrStorage.
func (e *Error) Is(target error) bool {
	return target == ErrStorage
}

// Key addresses a namespace, an identifier within it, or an attribute of
// that identifier.
type Key struct {
	Namespace string
	ID        string
	Attr      []string
}

// NamespaceKey addresses a whole namespace.
func NamespaceKey(namespace string) Key {
	return Key{Namespace: namespace}
}

// RecordKey addresses one identifier, optionally narrowed to an attribute.
func RecordKey(namespace, id string, attr ...string) Key {
	return Key{Namespace: namespace, ID: id, Attr: attr}
}

// Child returns a copy of k extended by one attribute component.
func (k Key) Child(name string) Key {
	attr := make([]string, 0, len(k.Attr)+1)
	attr = append(attr, k.Attr...)
	return Key{Namespace: k.Namespace, ID: k.ID, Attr: append(attr, name)}
}

// Parts returns the non-empty path components of the key.
func (k Key) Parts() []string {
	parts := []string{k.Namespace}
	if k.ID != "" {
		parts = append(parts, k.ID)
		parts = append(parts, k.Attr...)
	}
	return parts
}

func (k Key) String() string {
	return path.Join(k.Parts()...)
}

// Validate reports whether every component of the key is usable as a single
// path segment.
func (k Key) Validate() error {
	if k.ID == "" && len(k.Attr) > 0 {
		return fmt.Errorf("%w: attribute without identifier", ErrInvalidKey)
	}
	for _, p := range k.Parts() {
		if err := validComponent(p); err != nil {
			return err
		}
	}
	return nil
}

func validComponent(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("%w: empty component", ErrInvalidKey)
	case strings.HasPrefix(p, "."):
		return fmt.Errorf("%w: component %q starts with a dot", ErrInvalidKey, p)
	case strings.ContainsAny(p, `/\`+"\x00"):
		return fmt.Errorf("%w: component %q contains a separator", ErrInvalidKey, p)
	}
	return nil
}

// Backend defines the persistence operations records are built on.
type Backend interface {
	// Exists reports whether a value or any child is stored under key.
	Exists(ctx context.Context, key Key) (bool, error)
	// Get returns the value stored at key. ok is false when nothing was ever
	// written there.
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	// Set stores value at key, replacing any previous value atomically.
	Set(ctx context.Context, key Key, value []byte) error
	// Create stores value at key only if nothing is stored there yet.
	// created is false, with no error, when the key already exists.
	Create(ctx context.Context, key Key, value []byte) (created bool, err error)
	// Delete removes key and everything below it. Missing keys are ignored.
	Delete(ctx context.Context, key Key) error
	// NewIdentifier allocates and persists an identifier unique within
	// namespace. Concurrent callers never receive the same identifier.
	NewIdentifier(ctx context.Context, namespace, prefix string) (string, error)
	// Enumerate lists the names of the children of key in lexical order.
	Enumerate(ctx context.Context, key Key) ([]string, error)
	// Close releases the backend.
	Close() error
}

// maxIdentifierAttempts bounds retries when an allocated identifier collides.
const maxIdentifierAttempts = 16

// identifier builds a candidate identifier for prefix.
func identifier(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "_" + suffix
}

func wrap(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Key: key, Err: err}
}

// requireAttr validates key and checks it addresses an attribute.
func (k Key) requireAttr() error {
	if err := k.Validate(); err != nil {
		return err
	}
	if k.ID == "" || len(k.Attr) == 0 {
		return fmt.Errorf("%w: %q does not address an attribute", ErrInvalidKey, k.String())
	}
	return nil
}

func validPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if err := validComponent(prefix); err != nil {
		return err
	}
	if strings.Contains(prefix, "_") {
		return fmt.Errorf("%w: prefix %q contains an underscore", ErrInvalidKey, prefix)
	}
	return nil
}
