//go:build linux

// Package gadget implements hal.DeviceHAL on top of the Linux kernel's
// FunctionFS gadget ABI, letting a softusb device stack present a real USB
// peripheral on a gadget-capable board instead of the loopback fifo HAL used
// for local development.
//
// # Architecture
//
// FunctionFS exposes one filesystem mount per function:
//
//	/dev/ffs-msc/           # Mount point (configured via configfs + a UDC bind)
//	├── ep0                 # Control/event file: descriptors, strings, SETUP
//	├── ep1                 # Bulk IN data endpoint
//	└── ep2                 # Bulk OUT data endpoint
//
// Init opens ep0 and writes the descriptor and string blocks described in
// descriptors.go, which is how the kernel learns the interface and endpoint
// layout for this function. Start then opens ep1/ep2, which only become
// usable once the function has bound. ReadSetup multiplexes both
// usb_functionfs_event SETUP packets and ENABLE/DISABLE connection-state
// events off of ep0.
//
// # Endpoint Stall
//
// FunctionFS gives userspace no ioctl to raise a stall on a bulk endpoint,
// only FUNCTIONFS_CLEAR_HALT to clear one the kernel already raised (for
// example after a halted data transfer completes). Stall is therefore
// tracked in software: Stall marks the endpoint halted and Read/Write return
// pkg.ErrStall until ClearStall runs, which also issues the real ioctl to
// resynchronize with the kernel.
//
// # Usage
//
//	hal := gadget.New("/dev/ffs-msc", msc.ClassMSC, msc.SubclassSCSI,
//	    msc.ProtocolBulkOnly, 0x81, 0x01, "Mass Storage")
//
//	builder := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1234, 0x5680).
//	    WithStrings("softusb", "Mass Storage", "12345678").
//	    AddConfiguration(1)
//
//	disk := msc.New(storage, "softusb", "Virtual Disk", "1.0")
//	disk.ConfigureDevice(builder, 0x81, 0x01)
//
//	dev, _ := builder.Build(ctx)
//	disk.AttachToInterface(dev, 1, 0)
//
//	stack := device.NewStack(dev, hal)
//	disk.SetStack(stack)
//	stack.Start(ctx)
//	disk.Run(ctx)
package gadget
