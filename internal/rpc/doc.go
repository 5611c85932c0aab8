// Package rpc multiplexes commands, events and responses for named groups over a single
// transport.
//
// Each side registers the same groups in the same order and calls Init, which exchanges
// INIT packets and checks a digest of the registrations. Commands block the caller on a
// command context until the peer answers. A handler that calls back into the peer passes
// its Task, so the nested call reuses the context the peer is already waiting on and is
// served inline by that waiter. Events are fire-and-forget and acknowledged by the peer.
//
// Nothing here times out. A peer that never answers blocks the caller until Close.
package rpc
