// Package devicetable declares the local device identity and the map of
// known remote devices: hostname-based discovery, announce/list ingestion,
// and online/offline/primary bookkeeping.
package devicetable
