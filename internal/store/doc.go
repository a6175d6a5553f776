// Package store provides the persistence layer for the failure pipeline.
//
// It covers:
//   - Read-only scans of the form plugin's failure log and submission tables
//   - Notification marks (insert-if-absent dedup keys owned by this service)
package store
