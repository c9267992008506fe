// Package llm contains the reasoning-provider boundary. It abstracts
// away provider-specific APIs behind a single tool-calling chat
// interface and models provider replies as a closed text-or-call
// variant for the orchestration layer.
package llm
