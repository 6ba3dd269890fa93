// Package dill provides message-socket building blocks: transports that
// carry whole discrete messages, and adapters that stack on top of any
// message socket to add encryption (nacl), compression (compress) or
// forward error correction (fec).
//
// The root package composes the common stack — a length-prefixed frame
// transport over TCP with a secretbox-encrypted socket on top — so
// applications with a pre-shared key can exchange authenticated messages
// with two calls.
package dill
