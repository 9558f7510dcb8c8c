// internal/protocol/factory.go
package protocol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"scope-service/internal/model"
)

// CreateTransport creates a transport based on connection type and configuration
func CreateTransport(connectionType model.ConnectionType, config map[string]interface{}, logger *zap.Logger) (Transport, error) {
	if err := ValidateConfig(connectionType, config); err != nil {
		return nil, err
	}

	switch connectionType {
	case model.ConnectionTypeUSBTMC:
		return createCharDevTransport(config, logger), nil
	case model.ConnectionTypeSerial:
		return createSerialTransport(config, logger), nil
	case model.ConnectionTypeUSB:
		return createUSBTransport(config, logger), nil
	case model.ConnectionTypeTCP:
		return createTCPTransport(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol type: %s", connectionType)
	}
}

// createCharDevTransport creates a usbtmc character device transport
func createCharDevTransport(config map[string]interface{}, logger *zap.Logger) Transport {
	devConfig := &USBTMCConfig{
		DevicePath: DefaultUSBTMCDevice,
		Timeout:    5 * time.Second,
	}

	if path, ok := config["device_path"].(string); ok && path != "" {
		devConfig.DevicePath = path
	}
	devConfig.Timeout = durationValue(config["timeout"], devConfig.Timeout)

	logger.Info("Creating usbtmc transport",
		zap.String("device", devConfig.DevicePath),
	)

	return NewCharDevConnection(devConfig, logger)
}

// createSerialTransport creates a serial transport
func createSerialTransport(config map[string]interface{}, logger *zap.Logger) Transport {
	serialConfig := &SerialConfig{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  5 * time.Second,
	}

	serialConfig.Port, _ = config["port"].(string)
	serialConfig.BaudRate = intValue(config["baud_rate"], serialConfig.BaudRate)
	serialConfig.DataBits = intValue(config["data_bits"], serialConfig.DataBits)
	serialConfig.StopBits = intValue(config["stop_bits"], serialConfig.StopBits)
	serialConfig.MaxFrameSize = intValue(config["max_frame_size"], DefaultMaxFrameSize)

	if parity, ok := config["parity"].(string); ok && parity != "" {
		serialConfig.Parity = parity
	}
	serialConfig.Timeout = durationValue(config["timeout"], serialConfig.Timeout)

	logger.Info("Creating serial transport",
		zap.String("port", serialConfig.Port),
		zap.Int("baud_rate", serialConfig.BaudRate),
	)

	return NewSerialConnection(serialConfig, logger)
}

// createUSBTransport creates a libusb USB-TMC transport
func createUSBTransport(config map[string]interface{}, logger *zap.Logger) Transport {
	usbConfig := &USBConfig{
		VendorID: fmt.Sprintf("0x%04x", uint16(RigolVendorID)),
		Timeout:  5 * time.Second,
	}

	if vendorID, ok := config["vendor_id"].(string); ok && vendorID != "" {
		usbConfig.VendorID = vendorID
	}
	if productID, ok := config["product_id"].(string); ok {
		usbConfig.ProductID = productID
	}
	if serialNumber, ok := config["serial_number"].(string); ok {
		usbConfig.SerialNumber = serialNumber
	}
	usbConfig.Timeout = durationValue(config["timeout"], usbConfig.Timeout)

	logger.Info("Creating USB transport",
		zap.String("vendor_id", usbConfig.VendorID),
		zap.String("product_id", usbConfig.ProductID),
	)

	return NewUSBConnection(usbConfig, logger)
}

// createTCPTransport creates a TCP transport
func createTCPTransport(config map[string]interface{}, logger *zap.Logger) Transport {
	tcpConfig := &TCPConfig{
		Port:           DefaultTCPPort,
		KeepAlive:      true,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}

	host, _ := config["host"].(string)
	tcpConfig.Host = NormalizeHost(host)
	tcpConfig.Port = intValue(config["port"], tcpConfig.Port)
	tcpConfig.MaxFrameSize = intValue(config["max_frame_size"], DefaultMaxFrameSize)

	if keepAlive, ok := config["keep_alive"].(bool); ok {
		tcpConfig.KeepAlive = keepAlive
	}

	tcpConfig.ConnectTimeout = durationValue(config["connect_timeout"], tcpConfig.ConnectTimeout)
	tcpConfig.ReadTimeout = durationValue(config["read_timeout"], tcpConfig.ReadTimeout)
	tcpConfig.WriteTimeout = durationValue(config["write_timeout"], tcpConfig.WriteTimeout)

	logger.Info("Creating TCP transport",
		zap.String("host", tcpConfig.Host),
		zap.Int("port", tcpConfig.Port),
	)

	return NewTCPConnection(tcpConfig, logger)
}

// ValidateConfig validates configuration for a specific protocol type
func ValidateConfig(connectionType model.ConnectionType, config map[string]interface{}) error {
	switch connectionType {
	case model.ConnectionTypeUSBTMC:
		return nil
	case model.ConnectionTypeSerial:
		return validateSerialConfig(config)
	case model.ConnectionTypeUSB:
		return validateUSBConfig(config)
	case model.ConnectionTypeTCP:
		return validateTCPConfig(config)
	default:
		return fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}

// validateSerialConfig validates serial configuration
func validateSerialConfig(config map[string]interface{}) error {
	if port, ok := config["port"].(string); !ok || port == "" {
		return fmt.Errorf("serial port is required")
	}

	if baudRate, ok := config["baud_rate"]; ok {
		rate, valid := toInt(baudRate)
		if !valid {
			return fmt.Errorf("invalid baud_rate type")
		}

		validRates := []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}
		valid = false
		for _, validRate := range validRates {
			if rate == validRate {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid baud rate: %d", rate)
		}
	}

	if stopBits, ok := config["stop_bits"]; ok {
		bits, valid := toInt(stopBits)
		if !valid || (bits != 1 && bits != 2 && bits != 15) {
			return fmt.Errorf("invalid stop bits: %v", stopBits)
		}
	}

	return nil
}

// validateUSBConfig validates USB configuration
func validateUSBConfig(config map[string]interface{}) error {
	for _, key := range []string{"vendor_id", "product_id"} {
		if id, ok := config[key].(string); ok && id != "" {
			if _, err := parseHexID(id); err != nil {
				return fmt.Errorf("invalid USB %s %q", key, id)
			}
		}
	}
	return nil
}

// validateTCPConfig validates TCP configuration
func validateTCPConfig(config map[string]interface{}) error {
	if host, ok := config["host"].(string); !ok || strings.TrimSpace(host) == "" {
		return fmt.Errorf("TCP host is required")
	}

	if port, ok := config["port"]; ok {
		portNum, valid := toInt(port)
		if !valid {
			return fmt.Errorf("invalid port type")
		}

		if portNum < 1 || portNum > 65535 {
			return fmt.Errorf("invalid port number: %d", portNum)
		}
	}

	return nil
}

// NormalizeHost strips leading zeros from the octets of a dotted IPv4
// address ("192.168.001.010" becomes "192.168.1.10"). Anything that is not
// four numeric octets is returned trimmed but otherwise unchanged.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)

	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return host
	}

	octets := make([]string, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return host
		}
		octets[i] = strconv.Itoa(n)
	}

	return strings.Join(octets, ".")
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func intValue(v interface{}, fallback int) int {
	if n, ok := toInt(v); ok && n > 0 {
		return n
	}
	return fallback
}

func durationValue(v interface{}, fallback time.Duration) time.Duration {
	switch d := v.(type) {
	case time.Duration:
		if d > 0 {
			return d
		}
	case string:
		if dur, err := time.ParseDuration(d); err == nil && dur > 0 {
			return dur
		}
	}
	return fallback
}
