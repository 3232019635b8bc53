// Package frame implements the lowest layer of a connection: splitting the
// received byte stream into length-prefixed frames, and the optional zlib
// compression and CFB8 stream encryption that are switched on during login.
package frame
