package meter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// GridMeter reads the total active power of a SunSpec smart meter over
// Modbus TCP. Positive readings are grid import, negative export, matching
// the regulation engine's sign convention.
type GridMeter struct {
	client *modbus.ModbusClient
	logger *zap.Logger

	// meterBase is the surveyed base address of the ac meter model block.
	meterBase uint16
}

const (
	sunspecMagicAddr  = 40000
	sunspecFirstBlock = 40002

	// offsets inside the ac meter block (int+SF models 201..204)
	offsetTotalRealPower   = 18
	offsetTotalRealPowerSF = 22
)

func NewGridMeter(host string, port uint, unitID uint8, timeout time.Duration, logger *zap.Logger) (*GridMeter, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(unitID); err != nil {
		return nil, err
	}
	return &GridMeter{
		client: client,
		logger: logger.With(zap.String("component", "gridmeter")),
	}, nil
}

// Open connects and surveys the SunSpec block chain for the ac meter
// model. Fails when the device is not SunSpec or carries no meter block.
func (m *GridMeter) Open() error {
	if err := m.client.Open(); err != nil {
		return err
	}
	magic, err := m.readString(sunspecMagicAddr, 4)
	if err != nil {
		return err
	}
	if magic != "SunS" {
		return errors.New("meter: not a SunSpec device")
	}

	addr := uint16(sunspecFirstBlock)
	for n := 0; n < 10; n++ {
		id, err := m.client.ReadRegister(addr, modbus.HOLDING_REGISTER)
		if err != nil {
			return err
		}
		if id == 0xFFFF {
			break
		}
		length, err := m.client.ReadRegister(addr+1, modbus.HOLDING_REGISTER)
		if err != nil {
			return err
		}
		if id >= 201 && id <= 204 {
			m.meterBase = addr
			m.logger.Debug("ac meter block found",
				zap.Uint16("model", id), zap.Uint16("addr", addr))
			return nil
		}
		addr = addr + length + 2
	}
	return errors.New("meter: no SunSpec ac meter block found")
}

func (m *GridMeter) Close() error {
	return m.client.Close()
}

// ReadPowerWatt returns the current total real power in watts.
func (m *GridMeter) ReadPowerWatt() (float64, error) {
	if m.meterBase == 0 {
		return 0, errors.New("meter: not surveyed")
	}
	power, err := m.client.ReadRegister(m.meterBase+offsetTotalRealPower, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	sf, err := m.client.ReadRegister(m.meterBase+offsetTotalRealPowerSF, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return float64(int16(power)) * math.Pow(10, float64(int16(sf))), nil
}

func (m *GridMeter) readString(addr uint16, words uint16) (string, error) {
	raw, err := m.client.ReadRawBytes(addr, words*2, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b == 0x00 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}
