// internal/protocol/connection.go
package protocol

import "time"

// USBTMCConfig represents the kernel usbtmc character device
type USBTMCConfig struct {
	DevicePath string        `json:"device_path"`
	Timeout    time.Duration `json:"timeout"`
}

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port         string        `json:"port"`
	BaudRate     int           `json:"baud_rate"`
	DataBits     int           `json:"data_bits"`
	StopBits     int           `json:"stop_bits"`
	Parity       string        `json:"parity"`
	Timeout      time.Duration `json:"timeout"`
	MaxFrameSize int           `json:"max_frame_size"`
}

// USBConfig represents libusb USB-TMC configuration.
// An empty ProductID matches any product of the vendor.
type USBConfig struct {
	VendorID     string        `json:"vendor_id"`
	ProductID    string        `json:"product_id"`
	SerialNumber string        `json:"serial_number"`
	Timeout      time.Duration `json:"timeout"`
}

// TCPConfig represents TCP connection configuration
type TCPConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	KeepAlive      bool          `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	MaxFrameSize   int           `json:"max_frame_size"`
}
