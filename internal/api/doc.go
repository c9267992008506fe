// Package api exposes the conversational REST surface. It is a thin
// transport layer over the agent; all decision logic lives in the
// kernel and risk packages.
package api
