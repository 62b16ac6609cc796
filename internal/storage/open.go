package storage

import "fmt"

// Storage driver names.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open constructs the backend named by driver rooted at path. For the file
// driver path is a directory; for sqlite it is the database file.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", DriverFile:
		return NewFileBackend(path)
	case DriverSQLite:
		return NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
