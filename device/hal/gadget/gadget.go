//go:build linux

package gadget

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ardnew/gobbb/device/hal"
	"github.com/ardnew/gobbb/pkg"
)

// MaxDataEndpoints is the maximum number of ep{N} files this HAL will open,
// matching the single bulk IN/OUT pair used by Bulk-Only Transport.
const MaxDataEndpoints = 2

// eventStructSize is sizeof(struct usb_functionfs_event): an 8-byte union
// (large enough for usb_ctrlrequest or the smaller usb_endpoint_descriptor)
// followed by a 1-byte type and 3 bytes of padding.
const eventStructSize = 12

// HAL implements hal.DeviceHAL using a mounted FunctionFS instance.
type HAL struct {
	mountPoint string

	class, subclass, protocol uint8
	inAddr, outAddr           uint8
	interfaceName             string

	ep0  *os.File
	epIn *os.File // bulk IN data endpoint (ep1)
	epOut *os.File // bulk OUT data endpoint (ep2)

	connected uint32 // atomic: 1 = ENABLE event seen, 0 = not yet/DISABLE
	speed     hal.Speed

	mutex     sync.RWMutex
	initDone  bool
	connectCh chan struct{}
	disconnCh chan struct{}

	// Software-tracked halt state: FunctionFS exposes no userspace ioctl to
	// set a stall on a bulk endpoint (only FUNCTIONFS_CLEAR_HALT to clear
	// one the kernel already raised), so Stall is enforced here by refusing
	// further Read/Write on the endpoint until ClearStall runs, which also
	// issues the real ioctl to resynchronize with the kernel's halt state.
	haltedIn, haltedOut bool
}

// New creates a gadget HAL rooted at mountPoint (a FunctionFS mount, e.g.
// /dev/ffs-msc), describing a single interface with one bulk IN and one
// bulk OUT endpoint.
func New(mountPoint string, class, subclass, protocol, inAddr, outAddr uint8, interfaceName string) *HAL {
	return &HAL{
		mountPoint:    mountPoint,
		class:         class,
		subclass:      subclass,
		protocol:      protocol,
		inAddr:        inAddr,
		outAddr:       outAddr,
		interfaceName: interfaceName,
		speed:         hal.SpeedHigh,
		connectCh:     make(chan struct{}, 1),
		disconnCh:     make(chan struct{}, 1),
	}
}

// Init opens ep0 and writes the descriptor and string blocks, which is how
// FunctionFS learns the interface/endpoint layout for this function.
func (h *HAL) Init(ctx context.Context) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initDone {
		return pkg.ErrAlreadyRunning
	}

	ep0, err := os.OpenFile(h.mountPoint+"/ep0", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open ep0: %w", err)
	}
	h.ep0 = ep0

	descs := buildFunctionDescriptors(h.class, h.subclass, h.protocol, h.inAddr, h.outAddr, 64, 512)
	if _, err := h.ep0.Write(descs); err != nil {
		h.ep0.Close()
		return fmt.Errorf("write descriptors: %w", err)
	}

	strs := buildStringDescriptors(0x0409, h.interfaceName) // 0x0409: en-US
	if _, err := h.ep0.Write(strs); err != nil {
		h.ep0.Close()
		return fmt.Errorf("write strings: %w", err)
	}

	h.initDone = true
	pkg.LogInfo(pkg.ComponentGadget, "functionfs HAL initialized", "mount", h.mountPoint)
	return nil
}

// Start opens the data endpoint files. The kernel does not make ep1/ep2
// usable until ep0's descriptors have been accepted and the function bound,
// which Init already waited for implicitly by way of the successful writes.
func (h *HAL) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initDone {
		return pkg.ErrNotConfigured
	}

	epIn, err := os.OpenFile(h.mountPoint+"/ep1", os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open ep1: %w", err)
	}
	h.epIn = epIn

	epOut, err := os.OpenFile(h.mountPoint+"/ep2", os.O_RDWR, 0)
	if err != nil {
		h.epIn.Close()
		return fmt.Errorf("open ep2: %w", err)
	}
	h.epOut = epOut

	pkg.LogInfo(pkg.ComponentGadget, "functionfs HAL started")
	return nil
}

// Stop closes all open endpoint files.
func (h *HAL) Stop() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.epIn != nil {
		h.epIn.Close()
		h.epIn = nil
	}
	if h.epOut != nil {
		h.epOut.Close()
		h.epOut = nil
	}
	if h.ep0 != nil {
		h.ep0.Close()
		h.ep0 = nil
	}
	h.initDone = false
	atomic.StoreUint32(&h.connected, 0)

	pkg.LogInfo(pkg.ComponentGadget, "functionfs HAL stopped")
	return nil
}

// SetAddress is a no-op: the kernel's UDC driver handles bus addressing
// beneath FunctionFS: userspace never sees or sets it.
func (h *HAL) SetAddress(address uint8) error {
	return nil
}

// ConfigureEndpoints is a no-op: the endpoint layout was already committed
// to the kernel via the descriptor block written in Init.
func (h *HAL) ConfigureEndpoints(endpoints []hal.EndpointConfig) error {
	pkg.LogDebug(pkg.ComponentGadget, "endpoints already described via ep0", "count", len(endpoints))
	return nil
}

// ReadSetup blocks reading struct usb_functionfs_event records from ep0
// until a SETUP event arrives, translating ENABLE/DISABLE into the
// connect/disconnect channels along the way.
func (h *HAL) ReadSetup(ctx context.Context, out *hal.SetupPacket) error {
	h.mutex.RLock()
	ep0 := h.ep0
	h.mutex.RUnlock()

	if ep0 == nil {
		return pkg.ErrNotConfigured
	}

	var buf [eventStructSize]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := ep0.Read(buf[:])
		if err != nil {
			return err
		}
		if n < eventStructSize {
			continue
		}

		switch buf[8] {
		case eventEnable:
			atomic.StoreUint32(&h.connected, 1)
			select {
			case h.connectCh <- struct{}{}:
			default:
			}
		case eventDisable:
			atomic.StoreUint32(&h.connected, 0)
			select {
			case h.disconnCh <- struct{}{}:
			default:
			}
		case eventSetup:
			out.RequestType = buf[0]
			out.Request = buf[1]
			out.Value = binary.LittleEndian.Uint16(buf[2:4])
			out.Index = binary.LittleEndian.Uint16(buf[4:6])
			out.Length = binary.LittleEndian.Uint16(buf[6:8])
			return nil
		default:
			pkg.LogDebug(pkg.ComponentGadget, "functionfs event", "type", buf[8])
		}
	}
}

// WriteEP0 writes control-transfer IN data to ep0.
func (h *HAL) WriteEP0(ctx context.Context, data []byte) error {
	h.mutex.RLock()
	ep0 := h.ep0
	h.mutex.RUnlock()

	if ep0 == nil {
		return pkg.ErrNotConfigured
	}
	_, err := ep0.Write(data)
	return err
}

// ReadEP0 reads control-transfer OUT data from ep0.
func (h *HAL) ReadEP0(ctx context.Context, buf []byte) (int, error) {
	h.mutex.RLock()
	ep0 := h.ep0
	h.mutex.RUnlock()

	if ep0 == nil {
		return 0, pkg.ErrNotConfigured
	}
	return ep0.Read(buf)
}

// StallEP0 stalls the control endpoint by issuing a short write that the
// kernel will interpret as a protocol error, causing it to stall ep0.
func (h *HAL) StallEP0() error {
	h.mutex.RLock()
	ep0 := h.ep0
	h.mutex.RUnlock()

	if ep0 == nil {
		return pkg.ErrNotConfigured
	}
	// A zero-length write on ep0 during a non-zero data stage signals the
	// kernel to stall rather than send a short packet.
	_, err := ep0.Write(nil)
	return err
}

// AckEP0 sends a zero-length status packet on ep0.
func (h *HAL) AckEP0() error {
	h.mutex.RLock()
	ep0 := h.ep0
	h.mutex.RUnlock()

	if ep0 == nil {
		return pkg.ErrNotConfigured
	}
	_, err := ep0.Write(nil)
	return err
}

// Read reads from the bulk OUT data endpoint.
func (h *HAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	h.mutex.RLock()
	halted := h.haltedOut
	ep := h.epOut
	h.mutex.RUnlock()

	if halted {
		return 0, pkg.ErrStall
	}
	if ep == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	return ep.Read(buf)
}

// Write writes to the bulk IN data endpoint.
func (h *HAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	h.mutex.RLock()
	halted := h.haltedIn
	ep := h.epIn
	h.mutex.RUnlock()

	if halted {
		return 0, pkg.ErrStall
	}
	if ep == nil {
		return 0, pkg.ErrInvalidEndpoint
	}
	return ep.Write(data)
}

// Stall marks the given bulk endpoint halted. See the haltedIn/haltedOut
// doc comment on HAL for why this is tracked in software.
func (h *HAL) Stall(address uint8) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if address == h.inAddr {
		h.haltedIn = true
	} else if address == h.outAddr {
		h.haltedOut = true
	}
	pkg.LogDebug(pkg.ComponentGadget, "endpoint stalled", "address", address)
	return nil
}

// ClearStall clears the software halt flag and issues FUNCTIONFS_CLEAR_HALT
// so the kernel's endpoint state matches.
func (h *HAL) ClearStall(address uint8) error {
	h.mutex.Lock()
	var ep *os.File
	if address == h.inAddr {
		h.haltedIn = false
		ep = h.epIn
	} else if address == h.outAddr {
		h.haltedOut = false
		ep = h.epOut
	}
	h.mutex.Unlock()

	if ep == nil {
		return nil
	}

	if err := unix.IoctlSetInt(int(ep.Fd()), ioctlFunctionFSClearHalt, 0); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentGadget, "endpoint stall cleared", "address", address)
	return nil
}

// IsConnected reports whether an ENABLE event has been observed since the
// last DISABLE (or since Init).
func (h *HAL) IsConnected() bool {
	return atomic.LoadUint32(&h.connected) == 1
}

// GetSpeed returns the configured connection speed. FunctionFS does not
// expose the negotiated speed directly to this driver; the value here
// reflects what the gadget was configured for (see New).
func (h *HAL) GetSpeed() hal.Speed {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.speed
}

// WaitConnect blocks until an ENABLE event arrives or ctx is cancelled.
func (h *HAL) WaitConnect(ctx context.Context) error {
	if h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.connectCh:
		return nil
	}
}

// WaitDisconnect blocks until a DISABLE event arrives or ctx is cancelled.
func (h *HAL) WaitDisconnect(ctx context.Context) error {
	if !h.IsConnected() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.disconnCh:
		return nil
	}
}

// Compile-time interface check.
var _ hal.DeviceHAL = (*HAL)(nil)
