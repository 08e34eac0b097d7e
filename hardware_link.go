package mfbcontrol

import "context"

// LinkState is the connection state of a HardwareLink. It only moves forward
// within a session: Disconnected -> Connected -> Armed. Close returns it to
// Disconnected, after which a fresh Connect is required.
type LinkState int

// Names for the possible values of LinkState
const (
	Disconnected LinkState = iota // No session
	Connected                     // Command and data connections are open
	Armed                         // Acquisition is running; streaming may begin
)

func (s LinkState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Armed:
		return "Armed"
	}
	return "Unknown"
}

// RecordKind tells what a DeviceRecord carries.
type RecordKind int

// Names for the possible values of RecordKind
const (
	SessionStart RecordKind = iota // acquisition (re)started; realign windows
	DataRows                       // one or more rows of channel values
)

// RowFields is the number of values in every data row: the modulation
// readback followed by the four BPM electrodes.
const RowFields = 5

// DeviceRecord is one unit of the device's data stream. A record with a
// non-nil Err is the last record of its stream.
type DeviceRecord struct {
	Kind RecordKind
	Rows [][]float64
	Err  error
}

//go:generate mockgen -destination mock_commander_test.go -package mfbcontrol -write_package_comment=false github.com/usnistgov/mfbcontrol Commander

// Commander issues the read/write commands understood by the device.
// None of the methods retry; failures are *CommandError or *ConnectionError.
type Commander interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	PutTable(ctx context.Context, key string, rows []string) error
	Arm(ctx context.Context) error
	SetState(ctx context.Context, lines []string) error
}

// HardwareLink is the acquisition/actuation device: commands plus a stream
// of data records.
type HardwareLink interface {
	Commander

	// Connect establishes a session. It is a no-op if already connected.
	Connect(ctx context.Context) error

	// EnsureArmed arms acquisition unless activeKey reports it is already
	// running. Either way the link ends up Armed.
	EnsureArmed(ctx context.Context, activeKey string) error

	// Stream starts delivering records. The channel carries records until the
	// connection fails (a final record with Err set) or the link is closed.
	Stream(ctx context.Context) (<-chan *DeviceRecord, error)

	State() LinkState

	// Close tears the session down. It is safe to call more than once.
	Close() error
}

// DeviceKeys names the device fields the controller reads and writes.
type DeviceKeys struct {
	ModulationTable string // table of modulation samples, in DAC counts
	TriggerPeriod   string // sample clock period, seconds
	ModulationRoute string // routes the generator to EnableValue or DisableValue
	EnableValue     string
	DisableValue    string
	DACReadback     string // current DAC counts
	DACSetpoint     string // DAC setpoint, counts
	CaptureActive   string // "0" when acquisition is not armed
}

// DefaultDeviceKeys are the PandA block fields used by the MFB layout.
var DefaultDeviceKeys = DeviceKeys{
	ModulationTable: "PGEN1.TABLE",
	TriggerPeriod:   "CLOCK1.PERIOD",
	ModulationRoute: "PGEN1.ENABLE",
	EnableValue:     "PCAP.ACTIVE",
	DisableValue:    "ZERO",
	DACReadback:     "COUNTER1.OUT",
	DACSetpoint:     "COUNTER1.SET",
	CaptureActive:   "PCAP.ACTIVE",
}
