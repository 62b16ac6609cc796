// Package jobs defines the update-tool job kinds (check, update and survey)
// and the Service used by the HTTP API and the CLI to create and inspect
// them.
package jobs
