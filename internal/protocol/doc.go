// Package protocol implements the binary frame codec for the streaming
// recognition service. It builds client request frames (handshake and
// audio-only) and parses server response frames, including header nibble
// fields, big-endian sequence and size words, and gzip-compressed JSON
// payloads.
package protocol
