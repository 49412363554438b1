// Package types defines the shared data model for memchat: conversation
// turns, user profiles, correction records, semantic matches, and the
// per-request memory snapshot. It is the dependency root of the module and
// must not import any other memchat package.
package types
