// Package tracking estimates the listener pose from noisy position and
// orientation sensors.
//
// Sensors push samples into single-slot mailboxes at their own cadence;
// the newest sample wins. Estimator.Step runs one fixed-rate tick: it
// predicts the state forward, corrects it with whatever fresh samples are
// waiting and publishes an immutable Pose into an Exchange. Readers load
// the latest pose without locking.
//
// Position and velocity (and optionally acceleration) form a linear Kalman
// filter. Orientation uses an error-state filter: the nominal quaternion is
// propagated with the estimated angular rate and corrected multiplicatively
// by the small rotation between prediction and measurement.
package tracking
