// Package stream manages one recognition session over a WebSocket: the
// authenticated dial, the protocol handshake, a sender goroutine feeding
// segmented audio frames, and a receiver goroutine consuming progressive
// transcript responses. A session is single-use; the recorder creates a
// fresh one per recording.
package stream
