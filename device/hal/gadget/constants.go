//go:build linux

package gadget

// ioctl encoding for the Linux ioctl() calling convention, matching the
// generic layout used by usbdevfs and functionfs alike.
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

// ioc constructs an ioctl number from direction, type, number, and size.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// ior constructs a read ioctl number.
func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

// ioctlNum constructs an ioctl number with no data transfer.
func ioctlNum(typ, nr uintptr) uintptr {
	return ioc(iocNone, typ, nr, 0)
}

// functionfsType is the ioctl type character ('g') used by all FunctionFS
// ioctls (see <linux/usb/functionfs.h>).
const functionfsType = 'g'

// FunctionFS ioctl command numbers. FIFO_STATUS, FIFO_FLUSH and CLEAR_HALT
// take no argument; ENDPOINT_DESC reads back the negotiated descriptor for an
// endpoint file, which this HAL does not need.
var (
	ioctlFunctionFSFIFOStatus  = ioctlNum(functionfsType, 1)
	ioctlFunctionFSFIFOFlush   = ioctlNum(functionfsType, 2)
	ioctlFunctionFSClearHalt   = ioctlNum(functionfsType, 3)
	ioctlFunctionFSEndpointDesc = ior(functionfsType, 130, endpointDescriptorSize)
)

// endpointDescriptorSize is sizeof(struct usb_endpoint_descriptor).
const endpointDescriptorSize = 7

// FunctionFS event types, read back from ep0 as part of struct
// usb_functionfs_event. Only ENABLE/SETUP/DISABLE are acted on here;
// BIND/UNBIND/SUSPEND/RESUME are logged and ignored.
const (
	eventBind = iota
	eventUnbind
	eventEnable
	eventDisable
	eventSetup
	eventSuspend
	eventResume
)

// FunctionFS descriptor header magic numbers (see functionfs_descs_head_v2).
const (
	functionfsDescriptorsMagicV2 = 0x00000003 // V2 header, per-speed descriptor blocks
	functionfsHasFSDesc          = 0x00000001
	functionfsHasHSDesc          = 0x00000002
	functionfsHasSSDesc          = 0x00000004
)

// FunctionFS string descriptor magic (see functionfs_strings_head).
const functionfsStringsMagic = 0x00000002

// USB descriptor type codes reused for building raw FunctionFS descriptor
// blocks; kept local rather than importing device's constants to keep this
// HAL a self-contained platform adaptation layer.
const (
	descTypeInterface = 0x04
	descTypeEndpoint  = 0x05
)

// Endpoint attributes: bulk transfer type.
const endpointAttrBulk = 0x02
