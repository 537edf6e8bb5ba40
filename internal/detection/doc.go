// Package detection turns sampled frames into per-lane vehicle counts.
//
// The object detector itself is an external collaborator behind the Oracle
// interface. The Aggregator calls it once per lane per cycle and absorbs
// per-lane failures: a lane whose detection fails is dropped from that
// cycle rather than aborting it.
//
// RemoteOracle adapts a model server that returns raw boxes. It applies
// the confidence threshold, non-maximum suppression and the vehicle
// vocabulary locally, and draws the surviving boxes onto the frame.
package detection
