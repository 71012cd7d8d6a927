// Package plic declares the interface TrapCore's devintr dispatches
// through for the platform interrupt controller. The controller itself
// is out of scope (spec section 1, "PLIC and UART drivers"); this is the
// interface-only collaborator shape, grounded on
// biscuit/src/pci/olddiski.go's Disk_i.
package plic

/// Controller_i abstracts claiming and completing an external interrupt.
type Controller_i interface {
	// Claim returns the IRQ number of the highest-priority pending
	// interrupt, or 0 if none is pending.
	Claim() uint32
	// Complete tells the controller irq has been serviced.
	Complete(irq uint32)
}
