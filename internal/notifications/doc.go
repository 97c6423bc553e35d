// Package notifications delivers push notifications about job and publish
// milestones through ntfy. When no topic is configured every call is a noop.
package notifications
