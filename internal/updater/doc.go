// Package updater defines the system-update engine that jobs drive, with an
// implementation that shells out to an engine binary and a deterministic
// stub for development.
package updater
