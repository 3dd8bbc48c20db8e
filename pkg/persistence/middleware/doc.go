// Package middleware decorates a ConversationStore with at-rest protections:
// AES-GCM envelope encryption with key rotation, and masking of sensitive
// context keys.
package middleware
