// Package server exposes the daemon's HTTP control plane: recording
// actions (start, stop, cancel, toggle), status and health queries, and
// Prometheus metrics. The server binds to loopback and is meant to be
// driven by hotkeys and local scripts.
package server
