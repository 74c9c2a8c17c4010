package webauthn

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// attestationObject is the CBOR-encoded blob a browser sends back from
// navigator.credentials.create(). Only authData is needed here; fmt and
// attStmt describe the attestation statement format, which this server
// does not verify (self-attestation / none are both accepted as long as
// authData itself checks out).
type attestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AuthData []byte          `cbor:"authData"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
}

// coseKey is a COSE_Key map (RFC 9053) restricted to the EC2 fields
// this server accepts: kty=2 (EC2), alg=-7 (ES256), crv=1 (P-256).
type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Alg int    `cbor:"3,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

var errInvalidAttestation = errors.New("webauthn: invalid attestation object")

// decodeAuthData pulls the authData byte string out of a CBOR
// attestationObject, mirroring CborDecoder::find_bytes_field("authData")
// in the original.
func decodeAuthData(attestationObjectBytes []byte) ([]byte, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(attestationObjectBytes, &obj); err != nil {
		return nil, errInvalidAttestation
	}
	if len(obj.AuthData) == 0 {
		return nil, errInvalidAttestation
	}
	return obj.AuthData, nil
}

// credentialPublicKeyFromAuthData slices the attested credential's COSE
// public key out of authData, after the rpIdHash(32)+flags(1)+
// signCount(4)+aaguid(16)+credIdLen(2)+credId fields. Mirrors
// credential_public_key_from_authdata in the original.
func credentialPublicKeyFromAuthData(authData []byte) ([]byte, error) {
	if len(authData) < 55 {
		return nil, errInvalidAttestation
	}
	off := 37 // rpIdHash + flags + signCount
	off += 16 // aaguid
	if off+2 > len(authData) {
		return nil, errInvalidAttestation
	}
	credIDLen := int(authData[off])<<8 | int(authData[off+1])
	off += 2
	if off+credIDLen > len(authData) {
		return nil, errInvalidAttestation
	}
	off += credIDLen
	if off >= len(authData) {
		return nil, errInvalidAttestation
	}
	return authData[off:], nil
}

// decodeCoseKey parses a COSE_Key CBOR map and validates it is an
// ES256/P-256 EC2 key, matching decode_cose_key + the kty/crv/alg check
// in cose_to_spki.
func decodeCoseKey(cosePublicKey []byte) (coseKey, error) {
	var key coseKey
	if err := cbor.Unmarshal(cosePublicKey, &key); err != nil {
		return coseKey{}, errInvalidAttestation
	}
	if key.Kty != 2 || key.Crv != 1 || key.Alg != -7 || len(key.X) == 0 || len(key.Y) == 0 {
		return coseKey{}, errors.New("webauthn: unsupported cose key parameters")
	}
	return key, nil
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
