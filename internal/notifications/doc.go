// Package notifications delivers operator alerts via ntfy.
//
// Components publish an Event with a small Payload map; the ntfy service
// formats a title, message, tags, and priority per event and degrades to a
// no-op when no topic is configured. Per-event switches in the
// [notifications] config section suppress categories an operator does not
// want paged for.
package notifications
