// Package recorder orchestrates the recording lifecycle. A single actor
// goroutine owns all state: it starts and stops microphone capture, runs
// one recognition session per recording, applies transcript updates, and
// answers control-plane commands through one-shot reply channels. At most
// one recording is active at a time.
package recorder
