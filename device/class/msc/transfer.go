package msc

// Phase identifies where a Bulk-Only Transport transaction currently stands.
// A transaction always advances PhaseCommand -> (PhaseDataOut or PhaseDataIn)
// -> PhaseStatus -> PhaseCommand; PhaseHalted is entered only on a framing
// error and can only be left by a host-driven Bulk-Only Mass Storage Reset.
type Phase int

// Transaction phases, in the order BOT advances through them.
const (
	PhaseCommand Phase = iota // awaiting/parsing a CBW
	PhaseDataOut              // receiving command data from the host
	PhaseDataIn               // sending command data to the host
	PhaseStatus               // sending the CSW
	PhaseHalted               // framing error; both endpoints stalled, awaiting reset
)

// String implements fmt.Stringer for log output.
func (p Phase) String() string {
	switch p {
	case PhaseCommand:
		return "command"
	case PhaseDataOut:
		return "data-out"
	case PhaseDataIn:
		return "data-in"
	case PhaseStatus:
		return "status"
	case PhaseHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// direction classifies the data-phase a SCSI command requires, independent
// of what the CBW claims. It is used to detect phase errors: a mismatch
// between what the host announced (cbw.Flags) and what the command actually
// needs.
type direction int

// Command data directions.
const (
	dirNone direction = iota // no data phase
	dirIn                    // device -> host
	dirOut                   // host -> device
)

// commandDirection reports the data direction a SCSI opcode requires. It does
// not know transfer length, only which way bytes (if any) must move.
func commandDirection(opcode uint8) direction {
	switch opcode {
	case SCSIWrite6, SCSIWrite10, SCSIWrite16:
		return dirOut
	case SCSITestUnitReady, SCSIStartStopUnit, SCSIPreventAllowRemoval,
		SCSISynchronizeCache10, SCSIVerify10, SCSISendDiagnostic:
		return dirNone
	default:
		return dirIn
	}
}

// transferState tracks the current Bulk-Only Transport transaction: the CBW
// under execution, where the transaction is in the CMD/DATA/STATUS sequence,
// and whether the device is halted pending reset recovery.
type transferState struct {
	phase   Phase
	tag     uint32
	halted  bool
	residue uint32
	status  uint8
}

// reset returns the transaction to PhaseCommand without touching halted,
// which is cleared separately by a Bulk-Only Mass Storage Reset.
func (t *transferState) reset() {
	t.phase = PhaseCommand
	t.tag = 0
	t.residue = 0
	t.status = CSWStatusGood
}
