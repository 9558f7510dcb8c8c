// internal/discovery/usb/database.go
package usb

import (
	"github.com/google/gousb"

	"scope-service/internal/protocol"
)

// productKey identifies a USB product
type productKey struct {
	vendor, product gousb.ID
}

// ProductInfo describes a product id. Family is the model family
// reported before the instrument itself was asked for *IDN?.
type ProductInfo struct {
	Family     string
	Confidence float64
}

// vendorNames lists the vendors the scanner opens devices of
var vendorNames = map[gousb.ID]string{
	protocol.RigolVendorID: "Rigol Technologies",
}

var products = map[productKey]ProductInfo{
	{protocol.RigolVendorID, 0x04CE}: {Family: "DS1000Z", Confidence: 0.95},
	{protocol.RigolVendorID, 0x04B0}: {Family: "DS2000A", Confidence: 0.9},
	{protocol.RigolVendorID, 0x04B1}: {Family: "DS4000", Confidence: 0.9},
	{protocol.RigolVendorID, 0x044C}: {Family: "DHO800", Confidence: 0.8},
}

// unknownProductConfidence applies to products of a known vendor that
// are missing from the table
const unknownProductConfidence = 0.5

func knownVendor(vendor gousb.ID) bool {
	_, ok := vendorNames[vendor]
	return ok
}

// lookupProduct returns the table entry, or a zero-family entry with
// reduced confidence for unlisted products of a known vendor
func lookupProduct(vendor, product gousb.ID) (ProductInfo, bool) {
	if info, ok := products[productKey{vendor, product}]; ok {
		return info, true
	}
	return ProductInfo{Confidence: unknownProductConfidence}, false
}
