// internal/scpi/identity.go
package scpi

import (
	"context"
	"strings"
)

// Vendor strings reported by supported instruments
var knownVendors = map[string]bool{
	"RIGOL TECHNOLOGIES": true,
	"NK TECHNOLOGIES":    true,
}

var idnCommand = Cmd("*IDN?")

// Identity is the parsed *IDN? response
type Identity struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Serial   string `json:"serial"`
	Firmware string `json:"firmware"`
}

// Identify sends *IDN? and parses the reply
func (s *Session) Identify(ctx context.Context) (Identity, error) {
	resp, err := s.QueryLenient(ctx, idnCommand)
	if err != nil {
		return Identity{}, err
	}
	return ParseIdentity(resp)
}

// ParseIdentity splits an identification string into exactly four comma
// separated tokens. The firmware token is cut at the first ';'.
func ParseIdentity(resp string) (Identity, error) {
	raw := strings.TrimSpace(resp)
	unknown := &Error{
		Kind:     KindUnknownIdentity,
		Message:  "Received an unknown identification string from device.",
		Command:  idnCommand.String(),
		Response: raw,
	}

	tokens := strings.Split(raw, ",")
	if len(tokens) != 4 {
		return Identity{}, unknown
	}
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
		if tokens[i] == "" {
			return Identity{}, unknown
		}
	}

	if !knownVendors[tokens[0]] {
		return Identity{}, unknown
	}

	firmware := tokens[3]
	if i := strings.IndexByte(firmware, ';'); i >= 0 {
		firmware = firmware[:i]
	}

	return Identity{
		Vendor:   tokens[0],
		Model:    tokens[1],
		Serial:   tokens[2],
		Firmware: firmware,
	}, nil
}
