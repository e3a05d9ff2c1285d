// Package envelope defines the immutable, signed record that binds an
// event payload digest to its producer and logical timestamp. The bytes
// covered by the signature are pinned here so that verification is
// bit-exact regardless of how an envelope travels.
package envelope
