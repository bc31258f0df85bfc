// Package protocol owns the aggregation wire contract.
//
// Ownership boundary:
// - fixed-layout routing and distribution messages
// - active-message tags and legacy length-based disambiguation
// - execution parameter bitfield (aggregate mode + TCT)
// - protocol constants (queue sizes, timer periods)
//
// The envelope that carries these messages between nodes lives in
// protocol/frame.
package protocol
