// Package msc implements the USB Mass Storage Class (MSC) device driver
// using Bulk-Only Transport (BOT) protocol with SCSI transparent command set.
//
// The MSC class allows a USB device to appear as a standard disk drive,
// USB flash drive, or other mass storage device to the host system.
//
// # Architecture
//
// The MSC driver consists of four main components:
//
//  1. BOT Protocol Handler (bot.go) - CBW/CSW wire format
//  2. Transaction State Machine (transfer.go, msc.go's Run/step) - drives
//     Phase through command -> data -> status, or into a halted state on
//     a framing error
//  3. SCSI Command Processor (commands.go) - dispatches and executes
//     SCSI commands
//  4. Storage Backend (storage.go) - block-level storage abstraction
//
// # Bulk-Only Transport (BOT) Protocol
//
// The BOT protocol uses three phases for each command:
//
//  1. Command Phase - Host sends Command Block Wrapper (CBW)
//  2. Data Phase - Optional bidirectional data transfer
//  3. Status Phase - Device sends Command Status Wrapper (CSW)
//
// A malformed CBW (bad signature, reserved flag bits set, or an
// out-of-range command block length) is a framing error: Run stalls both
// bulk endpoints and sends no CSW. The only way out is a host-issued
// Bulk-Only Mass Storage Reset followed by CLEAR_FEATURE(ENDPOINT_HALT) on
// each endpoint. A CBW whose declared data direction disagrees with what
// the command actually needs is a phase error instead: the mismatched
// endpoint is stalled and a CSW with CSWStatusPhaseError is still sent.
//
// # SCSI Command Support
//
// The driver implements a subset of SCSI commands sufficient for
// disk operation:
//
//   - INQUIRY - Device identification
//   - READ CAPACITY (10/16) - Get disk size
//   - READ (6/10) - Read blocks
//   - WRITE (6/10) - Write blocks
//   - TEST UNIT READY - Check if ready
//   - REQUEST SENSE - Get error information
//   - MODE SENSE - Get device parameters
//   - PREVENT/ALLOW MEDIUM REMOVAL - Media lock control
//   - REPORT LUNS, SEND DIAGNOSTIC - single-LUN housekeeping commands
//
// # Storage Backend
//
// Storage is abstracted through the Storage interface, allowing
// different backend implementations:
//
//   - MemoryStorage - In-memory RAM disk
//   - FileStorage - File-backed disk image
//   - Custom implementations - Any block device
//
// # Usage Example
//
//	// Create 1MB in-memory storage
//	storage := msc.NewMemoryStorage(1024*1024, 512)
//
//	// Create MSC driver
//	disk := msc.New(storage, "softusb", "Virtual Disk", "1.0")
//
//	// Configure device with builder
//	builder := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1234, 0x5680).
//	    WithStrings("softusb", "Mass Storage", "12345678").
//	    AddConfiguration(1)
//
//	// Add MSC interface (bulkIn=0x81, bulkOut=0x01)
//	disk.ConfigureDevice(builder, 0x81, 0x01)
//
//	// Build device and attach driver
//	dev, _ := builder.Build(ctx)
//	disk.AttachToInterface(dev, 1, 0)
//
//	// Create stack and start
//	stack := device.NewStack(dev, hal)
//	disk.SetStack(stack)
//	stack.Start(ctx)
//
//	// Run MSC processing loop
//	disk.Run(ctx)
//
// # References
//
//   - USB Mass Storage Class Specification 1.0
//   - USB Mass Storage Bulk-Only Transport 1.0
//   - SCSI Primary Commands (SPC-4)
//   - SCSI Block Commands (SBC-3)
package msc
