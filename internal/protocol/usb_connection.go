// internal/protocol/usb_connection.go
package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"scope-service/internal/model"
)

// RigolVendorID is the USB vendor ID of Rigol instruments
const RigolVendorID gousb.ID = 0x1AB1

// USB-TMC message IDs
const (
	tmcDevDepMsgOut        = 0x01
	tmcRequestDevDepMsgIn  = 0x02
	tmcHeaderSize          = 12
	tmcEOM                 = 0x01
	tmcDefaultRequestBytes = 64 * 1024
)

// USBConnection implements Transport as a USB-TMC bulk transfer client
// through libusb, for hosts without the usbtmc kernel driver
type USBConnection struct {
	config   *USBConfig
	ctx      *gousb.Context
	device   *gousb.Device
	intf     *gousb.Interface
	closeIf  func()
	outEndpt *gousb.OutEndpoint
	inEndpt  *gousb.InEndpoint
	tag      byte
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool
	stats    statsTracker
}

// NewUSBConnection creates a new USB connection
func NewUSBConnection(config *USBConfig, logger *zap.Logger) *USBConnection {
	return &USBConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "usb"),
			zap.String("vendor_id", config.VendorID),
			zap.String("product_id", config.ProductID),
		),
	}
}

// Open opens the USB connection
func (uc *USBConnection) Open(ctx context.Context) error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if uc.isOpen {
		return nil
	}

	uc.logger.Info("Opening USB connection",
		zap.String("serial_number", uc.config.SerialNumber),
	)

	vendorID := RigolVendorID
	if uc.config.VendorID != "" {
		id, err := parseHexID(uc.config.VendorID)
		if err != nil {
			return fmt.Errorf("invalid vendor ID: %w", err)
		}
		vendorID = id
	}

	var productID gousb.ID
	if uc.config.ProductID != "" {
		id, err := parseHexID(uc.config.ProductID)
		if err != nil {
			return fmt.Errorf("invalid product ID: %w", err)
		}
		productID = id
	}

	uc.ctx = gousb.NewContext()

	device, err := uc.findAndOpenDevice(vendorID, productID)
	if err != nil {
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to find USB device: %w", err)
	}

	if err := device.SetAutoDetach(true); err != nil {
		uc.logger.Warn("Failed to enable kernel driver auto detach", zap.Error(err))
	}

	intf, done, err := device.DefaultInterface()
	if err != nil {
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return fmt.Errorf("failed to claim interface: %w", err)
	}

	outEndpt, inEndpt, err := bulkEndpoints(intf)
	if err != nil {
		done()
		device.Close()
		uc.ctx.Close()
		uc.ctx = nil
		return err
	}

	uc.device = device
	uc.intf = intf
	uc.closeIf = done
	uc.outEndpt = outEndpt
	uc.inEndpt = inEndpt
	uc.isOpen = true
	uc.stats.setConnected(true)

	uc.logger.Info("USB connection opened successfully")
	return nil
}

// bulkEndpoints finds the bulk in/out endpoint pair of a USB-TMC interface
func bulkEndpoints(intf *gousb.Interface) (*gousb.OutEndpoint, *gousb.InEndpoint, error) {
	outNum, inNum := -1, -1
	for _, desc := range intf.Setting.Endpoints {
		if desc.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if desc.Direction == gousb.EndpointDirectionIn {
			inNum = desc.Number
		} else {
			outNum = desc.Number
		}
	}

	if outNum < 0 || inNum < 0 {
		return nil, nil, fmt.Errorf("interface has no bulk endpoint pair")
	}

	outEndpt, err := intf.OutEndpoint(outNum)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get out endpoint: %w", err)
	}
	inEndpt, err := intf.InEndpoint(inNum)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get in endpoint: %w", err)
	}
	return outEndpt, inEndpt, nil
}

// Close closes the USB connection
func (uc *USBConnection) Close() error {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen {
		return nil
	}

	if uc.closeIf != nil {
		uc.closeIf()
		uc.closeIf = nil
		uc.intf = nil
	}

	var err error
	if uc.device != nil {
		err = uc.device.Close()
		uc.device = nil
	}

	if uc.ctx != nil {
		uc.ctx.Close()
		uc.ctx = nil
	}

	uc.outEndpt = nil
	uc.inEndpt = nil
	uc.isOpen = false
	uc.stats.setConnected(false)

	if err != nil {
		uc.logger.Error("Failed to close USB device", zap.Error(err))
		return fmt.Errorf("failed to close USB device: %w", err)
	}

	uc.logger.Info("USB connection closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (uc *USBConnection) IsOpen() bool {
	uc.mutex.RLock()
	defer uc.mutex.RUnlock()
	return uc.isOpen && uc.device != nil && uc.outEndpt != nil
}

// Write sends one DEV_DEP_MSG_OUT transfer carrying data
func (uc *USBConnection) Write(ctx context.Context, data []byte) (int, error) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen || uc.outEndpt == nil {
		return 0, ErrNotOpen
	}

	ctx, cancel := uc.transferContext(ctx)
	defer cancel()

	header := encodeBulkOutHeader(uc.nextTag(), len(data))
	packet := make([]byte, 0, alignTo4(tmcHeaderSize+len(data)))
	packet = append(packet, header[:]...)
	packet = append(packet, data...)
	packet = packet[:alignTo4(len(packet))]

	startTime := time.Now()
	n, err := uc.outEndpt.WriteContext(ctx, packet)
	if err != nil {
		uc.stats.recordError()
		uc.logger.Error("USB write failed", zap.Error(err))
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("failed to write to USB device: %w", err)
	}

	sent := n - tmcHeaderSize
	if sent > len(data) {
		sent = len(data)
	}
	if n < tmcHeaderSize+len(data) {
		uc.stats.recordError()
		return max(sent, 0), fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, max(sent, 0), len(data))
	}

	uc.stats.recordWrite(len(data), time.Since(startTime))

	uc.logger.Debug("USB write completed", zap.Int("bytes", len(data)))
	return len(data), nil
}

// Read requests device dependent message data until the device flags EOM
func (uc *USBConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	uc.mutex.Lock()
	defer uc.mutex.Unlock()

	if !uc.isOpen || uc.inEndpt == nil {
		return nil, ErrNotOpen
	}

	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameSize
	}

	ctx, cancel := uc.transferContext(ctx)
	defer cancel()

	startTime := time.Now()
	var message []byte

	for {
		request := maxBytes - len(message)
		if request <= 0 {
			uc.stats.recordError()
			return nil, fmt.Errorf("%w: limit %d", ErrFrameTooLarge, maxBytes)
		}
		if request > tmcDefaultRequestBytes {
			request = tmcDefaultRequestBytes
		}

		payload, eom, err := uc.readTransfer(ctx, request)
		if err != nil {
			uc.stats.recordError()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to read from USB device: %w", err)
		}

		message = append(message, payload...)
		if eom {
			break
		}
	}

	uc.stats.recordRead(len(message), time.Since(startTime))
	return message, nil
}

// readTransfer performs one REQUEST_DEV_DEP_MSG_IN round trip
func (uc *USBConnection) readTransfer(ctx context.Context, request int) ([]byte, bool, error) {
	header := encodeBulkInHeader(uc.nextTag(), request)
	if _, err := uc.outEndpt.WriteContext(ctx, header[:]); err != nil {
		return nil, false, err
	}

	buf := make([]byte, alignTo4(tmcHeaderSize+request))
	n, err := uc.inEndpt.ReadContext(ctx, buf)
	if err != nil {
		return nil, false, err
	}
	if n < tmcHeaderSize {
		return nil, false, fmt.Errorf("short bulk-in header: %d bytes", n)
	}
	if buf[0] != tmcRequestDevDepMsgIn {
		return nil, false, fmt.Errorf("unexpected bulk-in message id 0x%02x", buf[0])
	}

	size := int(binary.LittleEndian.Uint32(buf[4:8]))
	eom := buf[8]&tmcEOM != 0
	if size > request {
		return nil, false, fmt.Errorf("device announced %d bytes for a %d byte request", size, request)
	}

	payload := make([]byte, 0, size)
	payload = append(payload, buf[tmcHeaderSize:min(n, tmcHeaderSize+size)]...)

	// continuation packets carry no header
	for len(payload) < size {
		n, err := uc.inEndpt.ReadContext(ctx, buf)
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return nil, false, fmt.Errorf("bulk-in transfer ended after %d of %d bytes", len(payload), size)
		}
		payload = append(payload, buf[:min(n, size-len(payload))]...)
	}

	return payload, eom, nil
}

// GetProtocolType returns the protocol type
func (uc *USBConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeUSB
}

// Stats returns a snapshot of the connection statistics
func (uc *USBConnection) Stats() ProtocolStats {
	return uc.stats.snapshot()
}

func (uc *USBConnection) transferContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if uc.config.Timeout > 0 {
		return context.WithTimeout(ctx, uc.config.Timeout)
	}
	return context.WithCancel(ctx)
}

// nextTag returns the next bTag, skipping zero
func (uc *USBConnection) nextTag() byte {
	uc.tag++
	if uc.tag == 0 {
		uc.tag = 1
	}
	return uc.tag
}

// encodeBulkOutHeader builds a DEV_DEP_MSG_OUT header with EOM set
func encodeBulkOutHeader(tag byte, size int) [tmcHeaderSize]byte {
	var out [tmcHeaderSize]byte
	out[0] = tmcDevDepMsgOut
	out[1] = tag
	out[2] = ^tag
	binary.LittleEndian.PutUint32(out[4:8], uint32(size))
	out[8] = tmcEOM
	return out
}

// encodeBulkInHeader builds a REQUEST_DEV_DEP_MSG_IN header without a term char
func encodeBulkInHeader(tag byte, size int) [tmcHeaderSize]byte {
	var out [tmcHeaderSize]byte
	out[0] = tmcRequestDevDepMsgIn
	out[1] = tag
	out[2] = ^tag
	binary.LittleEndian.PutUint32(out[4:8], uint32(size))
	return out
}

func alignTo4(n int) int {
	return (n + 3) &^ 3
}

// parseHexID parses hex ID string (0x1234 or 1234)
func parseHexID(hexStr string) (gousb.ID, error) {
	hexStr = strings.TrimPrefix(strings.ToLower(hexStr), "0x")

	id, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return 0, err
	}

	return gousb.ID(id), nil
}

// findAndOpenDevice finds and opens the USB device
func (uc *USBConnection) findAndOpenDevice(vendorID, productID gousb.ID) (*gousb.Device, error) {
	devices, err := uc.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vendorID {
			return false
		}
		return productID == 0 || desc.Product == productID
	})

	if err != nil && len(devices) == 0 {
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	var selected *gousb.Device
	for _, device := range devices {
		if selected != nil {
			device.Close()
			continue
		}
		if uc.config.SerialNumber != "" {
			serial, err := device.SerialNumber()
			if err != nil || serial != uc.config.SerialNumber {
				device.Close()
				continue
			}
		}
		selected = device
	}

	if selected == nil {
		return nil, fmt.Errorf("USB device not found (VID: %04X, PID: %04X)", uint16(vendorID), uint16(productID))
	}

	if len(devices) > 1 && uc.config.SerialNumber == "" {
		uc.logger.Warn("Multiple matching USB devices found, using first one")
	}

	return selected, nil
}
