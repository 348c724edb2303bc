package param

// Parameter ids of the controller table. 0x01 is reserved.
const (
	IDA          ID = 0x02
	IDB          ID = 0x03
	IDC          ID = 0x04
	IDTempSensor ID = 0x05
	IDDeviceName ID = 0x06
	IDSpeed      ID = 0x07
	IDVoltage    ID = 0x08
	IDConfigFlag ID = 0x09
)

// DeviceNameCap is the capacity of the device name, terminator included.
const DeviceNameCap = 16

// DefaultTable returns the controller's parameter table.
func DefaultTable() []Entry {
	return []Entry{
		{ID: IDA, Name: "param_a", Default: Int(1)},
		{ID: IDB, Name: "param_b", Default: Float(2.5)},
		{ID: IDC, Name: "param_c", Default: Int(2)},
		{ID: IDTempSensor, Name: "temp_sensor", Default: Uint8(100)},
		{ID: IDDeviceName, Name: "device_name", Default: String("V1.0"), Cap: DeviceNameCap},
		{ID: IDSpeed, Name: "speed", Default: Uint16(1000)},
		{ID: IDVoltage, Name: "voltage", Default: Uint32(12000)},
		{ID: IDConfigFlag, Name: "config_flag", Default: Uint8(1)},
	}
}
