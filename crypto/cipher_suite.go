package crypto

import (
	"bytes"
	"errors"
)

// SecurityClassSize is the length of the security classification prefix
// carried in a ParameterSet OID. Both peers must advertise identical
// bytes here; a mismatch is grounds for refusal at the Connect stage.
const SecurityClassSize = 2

// ErrSecurityClassMismatch indicates two peers advertised different
// security classifications and cannot proceed past Connect.
var ErrSecurityClassMismatch = errors.New("crypto: security classification mismatch")

// CheckSecurityClass compares the security classification prefixes of
// two parameter-set OIDs. Negotiation beyond acceptance/refusal is out
// of scope: the core never attempts to reconcile differing classes.
func CheckSecurityClass(localOID, remoteOID [16]byte) error {
	if !bytes.Equal(localOID[:SecurityClassSize], remoteOID[:SecurityClassSize]) {
		return ErrSecurityClassMismatch
	}
	return nil
}
