// Package uart declares the interface TrapCore's devintr dispatches
// through for the console UART. The driver itself is out of scope (spec
// section 1); this is the interface-only collaborator shape, grounded on
// biscuit/src/pci/olddiski.go's Disk_i.
package uart

/// Device_i abstracts servicing a UART interrupt.
type Device_i interface {
	// Intr services a pending UART interrupt (incoming byte ready,
	// outgoing buffer space available).
	Intr()
}
