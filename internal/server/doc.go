// Package server is the WebSocket transport of the chat engine.
//
// A single Hub goroutine owns the engine: client registration, every inbound
// frame and every disconnect pass through it one at a time. Client pumps
// only move bytes between the socket and the hub. Outbound frames are queued
// with non-blocking sends; a client whose buffer is full is dropped.
package server
