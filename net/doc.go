// Package net implements the wire primitives of the protocol.
//
// This includes a message (the body of a single packet, read or written field by
// field) and the variable-length integer encoding used both inside packet bodies
// and by the frame layer.
package net
