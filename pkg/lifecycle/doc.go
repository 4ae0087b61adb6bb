// Package lifecycle drives a device credential through registration,
// issuance, PoP-signed access and rotation.
//
// States:
//
//	Unregistered -> Registered -> Active <-> Rotating
//	                                 |
//	                                 +-> Expired | Revoked
//
// Closed is terminal and reached only through Close.
//
// An Engine owns the current-token slot, the key custodian and the rotation
// scheduler for one device. Rotation replaces the token only on full
// success, and concurrent Rotate calls share a single gateway submission.
// The scheduler polls the held token and rotates once elapsed time reaches
// the configured fraction of its lifetime (0.8 by default).
package lifecycle
