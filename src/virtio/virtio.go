// Package virtio declares the interface TrapCore's devintr dispatches
// through for virtio disk interrupts; src/bio's BufCache reaches the disk
// through its own bio.Disk_i instead. The driver itself is out of scope
// (spec section 1); this is the interface-only collaborator shape,
// grounded on biscuit/src/pci/olddiski.go's Disk_i.
package virtio

/// Device_i abstracts servicing a virtio disk interrupt.
type Device_i interface {
	// Intr services a pending virtio interrupt, waking whatever hart is
	// sleeping on the completed request.
	Intr()
}
