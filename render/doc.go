// Package render sequences per-source distance, spatialization and post
// processing into fixed-size stereo blocks.
//
// An Orchestrator owns every source stream. Control calls (Activate,
// Switch, Queue, Deactivate, Move) are queued on a bounded channel and
// applied at the start of the next block, so they are safe from any
// goroutine. The listener pose is read once per block from a lock-free
// snapshot.
//
// Each source runs a small state machine:
//
//	Idle --Activate--> Playing
//	Playing --Switch / end of asset with successor / fading Deactivate--> Crossfading
//	Crossfading --fade complete--> Playing (successor) or Idle
//	Playing --end of asset, no loop, no successor--> Idle
//
// Starved or failed sources render silence; the fault is reported and the
// block is still delivered.
package render
