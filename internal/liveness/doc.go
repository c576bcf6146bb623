// Package liveness demotes silent devices to OFFLINE.
//
// The Reconciler sweeps every device on a fixed interval. A device that is
// not already OFFLINE and has been silent for longer than the staleness
// window is demoted with a compare-and-set on the LastActiveAt value the
// sweep observed, so a sample ingested after the sweep read the row always
// wins. The reconciler never promotes: OFFLINE to ACTIVE happens only through
// ingestion.
//
// Sweeps are silent when nothing changes. Transitions are logged at info
// level, published as events and counted; per-device store errors are logged
// and the sweep moves on.
package liveness
