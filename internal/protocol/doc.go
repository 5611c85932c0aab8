// Package protocol owns the RPC wire contract shared by both peers.
//
// Ownership boundary:
// - packet header and INIT/ERR payload primitives (frame)
// - error codes carried in ERR packets
package protocol
