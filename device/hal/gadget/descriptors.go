//go:build linux

package gadget

import "encoding/binary"

// buildFunctionDescriptors assembles the FunctionFS descriptor block written
// to ep0 once at Init: a V2 header followed by one interface descriptor and
// two bulk endpoint descriptors (IN and OUT), repeated identically for full-
// and high-speed since this driver doesn't vary endpoint wMaxPacketSize by
// speed beyond the standard 64/512 split handled by the kernel.
func buildFunctionDescriptors(class, subclass, protocol, inAddr, outAddr uint8, fsPacketSize, hsPacketSize uint16) []byte {
	iface := interfaceDescriptor(class, subclass, protocol)

	fsBlock := append(append([]byte{}, iface...),
		append(endpointDescriptor(inAddr, fsPacketSize), endpointDescriptor(outAddr, fsPacketSize)...)...)
	hsBlock := append(append([]byte{}, iface...),
		append(endpointDescriptor(inAddr, hsPacketSize), endpointDescriptor(outAddr, hsPacketSize)...)...)

	var buf []byte
	buf = appendU32(buf, functionfsDescriptorsMagicV2)
	lengthOffset := len(buf)
	buf = appendU32(buf, 0) // length, patched below
	buf = appendU32(buf, functionfsHasFSDesc|functionfsHasHSDesc)
	buf = appendU32(buf, 3) // fs_count: descriptors in the block (interface + two endpoints)
	buf = appendU32(buf, 3) // hs_count
	buf = append(buf, fsBlock...)
	buf = append(buf, hsBlock...)

	binary.LittleEndian.PutUint32(buf[lengthOffset:], uint32(len(buf)))
	return buf
}

// interfaceDescriptor builds a standard interface descriptor (9 bytes).
func interfaceDescriptor(class, subclass, protocol uint8) []byte {
	return []byte{
		9,                 // bLength
		descTypeInterface, // bDescriptorType
		0,                 // bInterfaceNumber (0: assigned by FunctionFS)
		0,                 // bAlternateSetting
		2,                 // bNumEndpoints
		class,
		subclass,
		protocol,
		0, // iInterface
	}
}

// endpointDescriptor builds a standard bulk endpoint descriptor (7 bytes).
func endpointDescriptor(address uint8, maxPacketSize uint16) []byte {
	buf := []byte{
		7,                // bLength
		descTypeEndpoint, // bDescriptorType
		address,
		endpointAttrBulk,
		0, 0, // wMaxPacketSize, filled below
		0, // bInterval (unused for bulk)
	}
	binary.LittleEndian.PutUint16(buf[4:6], maxPacketSize)
	return buf
}

// buildStringDescriptors assembles the FunctionFS strings block for a single
// language (en-US) with one string: the interface name.
func buildStringDescriptors(langID uint16, interfaceName string) []byte {
	var buf []byte
	buf = appendU32(buf, functionfsStringsMagic)
	lengthOffset := len(buf)
	buf = appendU32(buf, 0) // length, patched below
	buf = appendU32(buf, 1) // str_count
	buf = appendU32(buf, 1) // lang_count

	buf = append(buf, byte(langID), byte(langID>>8))
	buf = append(buf, []byte(interfaceName)...)
	buf = append(buf, 0) // NUL terminator

	binary.LittleEndian.PutUint32(buf[lengthOffset:], uint32(len(buf)))
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}
