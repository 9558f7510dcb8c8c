// internal/discovery/usb/database_test.go
package usb

import (
	"testing"

	"scope-service/internal/protocol"
)

func TestLookupProduct(t *testing.T) {
	info, ok := lookupProduct(protocol.RigolVendorID, 0x04CE)
	if !ok || info.Family != "DS1000Z" {
		t.Fatalf("DS1000Z lookup = %+v, %v", info, ok)
	}

	info, ok = lookupProduct(protocol.RigolVendorID, 0x0001)
	if ok || info.Family != "" || info.Confidence != unknownProductConfidence {
		t.Errorf("unlisted product = %+v, %v", info, ok)
	}

	if !knownVendor(protocol.RigolVendorID) || knownVendor(0x0403) {
		t.Error("vendor filter mismatch")
	}
}
