// Package bus declares the namespace-keyed publish/subscribe layer that
// sits between application code and a mesh node's routing.
package bus
