// Package portal holds the domain model of the site template service: users,
// site templates and their layouts, export/import configuration records, and
// background tasks with their attachments. The interfaces in this package are
// the seams to the persistence and messaging backends; in-memory, Postgres,
// GCS and Pub/Sub implementations live under internal/storage and
// internal/publisher.
package portal
