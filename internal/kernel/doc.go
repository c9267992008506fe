// Package kernel implements the financial-control core: it composes
// sanitization, risk scoring and policy gating into a single intent
// execution operation with a strict state machine, and is the only
// place allowed to talk to the settlement boundary.
package kernel
