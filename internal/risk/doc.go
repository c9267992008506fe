// Package risk holds the deterministic risk engine and the policy gate.
// Scoring is an additive fold over independent pure heuristics so every
// block decision stays explainable to the human end of the conversation.
package risk
