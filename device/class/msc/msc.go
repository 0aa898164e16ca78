package msc

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/ardnew/gobbb/device"
	"github.com/ardnew/gobbb/pkg"
)

// MSC implements the Mass Storage Class Bulk-Only Transport driver.
type MSC struct {
	// Interface
	iface *device.Interface

	// Endpoints
	bulkInEP  *device.Endpoint // Bulk IN (device to host)
	bulkOutEP *device.Endpoint // Bulk OUT (host to device)

	// Stack reference for data transfer
	stack *device.Stack

	// Storage backend
	storage Storage

	// Device information
	inquiry InquiryResponse

	// Current command state
	currentCBW CommandBlockWrapper
	transfer   transferState

	// resetCh wakes step/Run out of a halted wait as soon as handleReset
	// clears transfer.halted, instead of busy-polling the flag.
	resetCh chan struct{}

	// Sense data (for REQUEST SENSE)
	sense senseData

	// Buffers (zero-allocation pattern)
	cbwBuf   [CBWSize]byte
	cswBuf   [CSWSize]byte
	dataBuf  [MaxTransferSize]byte
	senseBuf [18]byte

	// State
	mutex      sync.RWMutex
	configured bool

	// Logical Unit Number (typically 0)
	maxLUN uint8
}

// New creates a new MSC class driver with the given storage backend.
// vendorID, productID, and revision are 8, 16, and 4 character strings
// respectively, padded or truncated by NewInquiryResponse as needed.
func New(storage Storage, vendorID, productID, revision string) *MSC {
	m := &MSC{
		storage: storage,
		maxLUN:  0, // Single LUN by default
		resetCh: make(chan struct{}, 1),
	}

	// Initialize INQUIRY response
	m.inquiry = *NewInquiryResponse(
		DeviceTypeDisk,
		storage.IsRemovable(),
		vendorID,
		productID,
		revision,
	)

	// Clear sense data (no error)
	m.setSense(SenseNoSense, ASCNoAdditionalInfo, 0)

	return m
}

// SetStack sets the device stack reference for data transfer.
func (m *MSC) SetStack(stack *device.Stack) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stack = stack
}

// SetMaxLUN sets the maximum Logical Unit Number (0-15).
func (m *MSC) SetMaxLUN(lun uint8) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if lun <= 15 {
		m.maxLUN = lun
	}
}

// Init initializes the class driver for the given interface.
func (m *MSC) Init(iface *device.Interface) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.iface = iface

	// Find bulk endpoints
	for _, ep := range iface.Endpoints() {
		if ep.IsBulk() {
			if ep.IsIn() {
				m.bulkInEP = ep
			} else {
				m.bulkOutEP = ep
			}
		}
	}

	if m.bulkInEP == nil || m.bulkOutEP == nil {
		return pkg.ErrInvalidEndpoint
	}

	m.configured = true
	pkg.LogDebug(pkg.ComponentMSC, "MSC configured",
		"bulkIn", m.bulkInEP.Address,
		"bulkOut", m.bulkOutEP.Address)

	return nil
}

// HandleSetup processes class-specific SETUP requests.
func (m *MSC) HandleSetup(iface *device.Interface, setup *device.SetupPacket, data []byte) (bool, error) {
	if !setup.IsClass() {
		return false, nil
	}

	switch setup.Request {
	case RequestBulkOnlyMassStorageReset:
		return m.handleReset(setup)

	case RequestGetMaxLUN:
		return m.handleGetMaxLUN(setup, data)

	default:
		return false, nil
	}
}

// handleReset handles the Bulk-Only Mass Storage Reset request. This is the
// only way out of PhaseHalted: it clears the halted flag and returns the
// transaction to PhaseCommand, but it does NOT clear endpoint stalls itself
// -- per the Bulk-Only Transport spec those are cleared by the host issuing
// CLEAR_FEATURE(ENDPOINT_HALT) on each bulk endpoint afterward, which arrives
// through the already-wired onEndpointStall callback.
func (m *MSC) handleReset(setup *device.SetupPacket) (bool, error) {
	pkg.LogDebug(pkg.ComponentMSC, "bulk-only mass storage reset")

	m.mutex.Lock()
	m.sense.clear()
	m.transfer.reset()
	m.transfer.halted = false
	m.mutex.Unlock()

	select {
	case m.resetCh <- struct{}{}:
	default:
	}

	return true, nil
}

// handleGetMaxLUN handles the Get Max LUN request.
func (m *MSC) handleGetMaxLUN(setup *device.SetupPacket, data []byte) (bool, error) {
	m.mutex.RLock()
	maxLUN := m.maxLUN
	m.mutex.RUnlock()

	pkg.LogDebug(pkg.ComponentMSC, "Get Max LUN",
		"maxLUN", maxLUN)

	if len(data) > 0 {
		data[0] = maxLUN
	}

	return true, nil
}

// SetAlternate handles alternate setting changes.
func (m *MSC) SetAlternate(iface *device.Interface, alt uint8) error {
	pkg.LogDebug(pkg.ComponentMSC, "MSC alternate setting",
		"interface", iface.Number,
		"alt", alt)
	return nil
}

// Close releases resources held by the class driver.
func (m *MSC) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.iface = nil
	m.bulkInEP = nil
	m.bulkOutEP = nil
	m.stack = nil
	m.configured = false

	return nil
}

// setSense sets sense data for the next REQUEST SENSE command.
func (m *MSC) setSense(key, asc, ascq uint8) {
	m.sense.set(key, asc, ascq)
}

// ConfigureDevice adds the MSC interface to a device builder.
func (m *MSC) ConfigureDevice(builder *device.DeviceBuilder, bulkInEPAddr, bulkOutEPAddr uint8) *device.DeviceBuilder {
	builder.AddInterface(ClassMSC, SubclassSCSI, ProtocolBulkOnly)
	builder.AddEndpoint(bulkInEPAddr|device.EndpointDirectionIn, device.EndpointTypeBulk, 64)
	builder.AddEndpoint(bulkOutEPAddr&0x0F, device.EndpointTypeBulk, 64)
	return builder
}

// AttachToInterface attaches this class driver to the MSC interface.
func (m *MSC) AttachToInterface(dev *device.Device, configValue, ifaceNum uint8) error {
	config := dev.GetConfiguration(configValue)
	if config == nil {
		return pkg.ErrInvalidRequest
	}

	iface := config.GetInterface(ifaceNum)
	if iface == nil {
		return pkg.ErrInvalidRequest
	}

	return iface.SetClassDriver(m)
}

// Run is the main processing loop for MSC. It reads CBWs, processes SCSI
// commands, and sends CSWs, advancing transfer through PhaseCommand ->
// PhaseDataOut/PhaseDataIn -> PhaseStatus each iteration. A framing error
// moves transfer into PhaseHalted, where it stays -- stalling both bulk
// endpoints and issuing no further bulk-OUT reads -- until a Bulk-Only Mass
// Storage Reset arrives via HandleSetup; step parks on resetCh rather than
// busy-polling while halted. Run is not re-entrant: only one goroutine may
// call it for a given MSC at a time, since it owns transfer and the shared
// buffers without additional locking beyond m.mutex's narrow accessor use.
// This should be called in a goroutine after the device is configured.
func (m *MSC) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := m.step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogWarn(pkg.ComponentMSC, "transaction error", "error", err)
		}
	}
}

// step drives one Bulk-Only Transport transaction to completion: it reads a
// CBW, dispatches the SCSI command (which may perform a data phase), and
// sends a CSW -- unless the CBW was malformed, in which case it halts
// instead.
func (m *MSC) step(ctx context.Context) error {
	m.mutex.RLock()
	stack := m.stack
	outEP := m.bulkOutEP
	inEP := m.bulkInEP
	configured := m.configured
	m.mutex.RUnlock()

	if !configured || stack == nil || outEP == nil || inEP == nil {
		return pkg.ErrNotConfigured
	}

	if err := m.waitForReset(ctx); err != nil {
		return err
	}

	m.transfer.phase = PhaseCommand

	n, err := stack.Read(ctx, outEP, m.cbwBuf[:])
	if err != nil {
		return err
	}

	if !ParseCBW(m.cbwBuf[:n], &m.currentCBW) {
		return m.halt(ctx, "malformed command block wrapper")
	}

	m.transfer.tag = m.currentCBW.Tag

	pkg.LogDebug(pkg.ComponentMSC, "CBW received",
		"tag", m.currentCBW.Tag,
		"dataLen", m.currentCBW.DataTransferLength,
		"flags", m.currentCBW.Flags,
		"lun", m.currentCBW.LUN,
		"cbLen", m.currentCBW.CBLength,
		"opcode", m.currentCBW.CB[0])

	if dir := commandDirection(m.currentCBW.CB[0]); phaseMismatch(&m.currentCBW, dir) {
		return m.phaseError(ctx, inEP, outEP, &m.currentCBW)
	}

	m.transfer.phase = dataPhaseFor(&m.currentCBW)
	status, residue := m.handleSCSICommand(ctx, &m.currentCBW)

	m.transfer.phase = PhaseStatus
	return m.sendCSW(ctx, status, residue)
}

// waitForReset blocks while the transaction is halted awaiting a Bulk-Only
// Mass Storage Reset, parking on resetCh instead of busy-polling. A wakeup
// only means a reset happened at some point -- halted is rechecked directly
// rather than trusted, so a stale buffered wakeup left over from an earlier
// reset cannot return early while a later halt is still in effect.
func (m *MSC) waitForReset(ctx context.Context) error {
	for {
		m.mutex.RLock()
		halted := m.transfer.halted
		m.mutex.RUnlock()

		if !halted {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.resetCh:
		}
	}
}

// phaseMismatch reports whether the CBW's declared data direction disagrees
// with the direction the command actually requires. A command that needs no
// data phase is compatible with any CBW (hosts may announce a length of
// zero, or a stale direction bit that is simply never exercised).
func phaseMismatch(cbw *CommandBlockWrapper, want direction) bool {
	if want == dirNone || cbw.DataTransferLength == 0 {
		return false
	}
	if want == dirIn && !cbw.IsDataIn() {
		return true
	}
	if want == dirOut && !cbw.IsDataOut() {
		return true
	}
	return false
}

// dataPhaseFor reports the Phase a command's data transfer belongs to, for
// logging/introspection only; handlers still perform their own Read/Write.
func dataPhaseFor(cbw *CommandBlockWrapper) Phase {
	if cbw.DataTransferLength == 0 {
		return PhaseStatus
	}
	if cbw.IsDataIn() {
		return PhaseDataIn
	}
	return PhaseDataOut
}

// phaseError reports a CSWStatusPhaseError completion: the endpoint that
// disagrees with the host's declared direction is stalled and no data is
// transferred, per the Bulk-Only Transport error recovery table.
func (m *MSC) phaseError(ctx context.Context, inEP, outEP *device.Endpoint, cbw *CommandBlockWrapper) error {
	pkg.LogWarn(pkg.ComponentMSC, "phase error", "tag", cbw.Tag, "opcode", cbw.CB[0])

	m.mutex.RLock()
	stack := m.stack
	m.mutex.RUnlock()

	mismatched := outEP
	if cbw.IsDataIn() {
		mismatched = inEP
	}
	if stack != nil {
		_ = stack.Stall(mismatched)
	}

	m.transfer.phase = PhaseStatus
	return m.sendCSW(ctx, CSWStatusPhaseError, cbw.DataTransferLength)
}

// halt enters PhaseHalted after a framing error: both bulk endpoints are
// stalled and no CSW is sent, per Bulk-Only Transport's framing-error
// recovery path. Only a Bulk-Only Mass Storage Reset (handleReset) can
// clear it.
func (m *MSC) halt(ctx context.Context, reason string) error {
	pkg.LogWarn(pkg.ComponentMSC, "framing error, halting until reset", "reason", reason)

	m.mutex.Lock()
	stack := m.stack
	inEP := m.bulkInEP
	outEP := m.bulkOutEP
	m.transfer.phase = PhaseHalted
	m.transfer.halted = true
	m.mutex.Unlock()

	if stack != nil {
		_ = stack.Stall(inEP)
		_ = stack.Stall(outEP)
	}

	return pkg.ErrFraming
}

// sendCSW sends a Command Status Wrapper.
func (m *MSC) sendCSW(ctx context.Context, status uint8, residue uint32) error {
	m.mutex.RLock()
	stack := m.stack
	ep := m.bulkInEP
	m.mutex.RUnlock()

	if stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	csw := NewCSW(m.transfer.tag, residue, status)
	n := csw.MarshalTo(m.cswBuf[:])

	if _, err := stack.Write(ctx, ep, m.cswBuf[:n]); err != nil {
		return err
	}

	pkg.LogDebug(pkg.ComponentMSC, "CSW sent",
		"tag", csw.Tag,
		"residue", residue,
		"status", status)

	m.transfer.reset()
	return nil
}

// parseU16BE parses a big-endian uint16 from data at offset.
func parseU16BE(data []byte, offset int) uint16 {
	if offset+2 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint16(data[offset:])
}

// parseU32BE parses a big-endian uint32 from data at offset.
func parseU32BE(data []byte, offset int) uint32 {
	if offset+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[offset:])
}

// parseU64BE parses a big-endian uint64 from data at offset.
func parseU64BE(data []byte, offset int) uint64 {
	if offset+8 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint64(data[offset:])
}

// Compile-time interface check
var _ device.ClassDriver = (*MSC)(nil)
