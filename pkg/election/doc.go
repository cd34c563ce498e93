// Package election declares the coordinator that decides the single
// primary among the set of currently-known online devices.
package election
