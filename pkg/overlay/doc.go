// Package overlay declares the contract this system uses to talk to the
// overlay sidecar: a child process that joins the encrypted mesh and
// exposes it as a line-delimited JSON request/event channel over its
// stdin/stdout.
//
// The sidecar itself (joining the overlay, obtaining IPs/DNS, terminating
// TLS) is an external collaborator and out of scope here; this package only
// defines the wire shape of the IPC protocol and the Client interface used
// to drive it.
package overlay
