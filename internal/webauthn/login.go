package webauthn

import (
	"crypto/ecdsa"
	"errors"
)

// LoginResult is the outcome of POST /api/auth/login/finish.
type LoginResult struct {
	OK        bool
	Error     string
	User      string
	SessionID string
}

// FinishLogin verifies a WebAuthn assertion and, on success, issues an
// auth session. Mirrors WebAuthnManager::finish_login field-for-field:
// rpIdHash check, user-presence flag, sign-count monotonicity,
// challenge liveness + single use, origin equality, and finally the
// ECDSA-P-256 signature over authData||SHA-256(clientDataJSON).
func (m *Manager) FinishLogin(body []byte) LoginResult {
	credentialIDB64 := extractJSONString(body, "credentialId")
	clientDataB64 := extractJSONString(body, "clientDataJSON")
	authDataB64 := extractJSONString(body, "authenticatorData")
	signatureB64 := extractJSONString(body, "signature")

	if credentialIDB64 == "" || clientDataB64 == "" || authDataB64 == "" || signatureB64 == "" {
		return LoginResult{Error: "missing fields"}
	}

	clientData, err := base64URLDecode(clientDataB64)
	if err != nil {
		return LoginResult{Error: "invalid clientDataJSON"}
	}
	authData, err := base64URLDecode(authDataB64)
	if err != nil {
		return LoginResult{Error: "invalid authenticatorData"}
	}
	signature, err := base64URLDecode(signatureB64)
	if err != nil {
		return LoginResult{Error: "invalid signature"}
	}
	credentialID, err := base64URLDecode(credentialIDB64)
	if err != nil {
		return LoginResult{Error: "invalid credentialId"}
	}

	if len(authData) < 32 {
		return LoginResult{Error: "authenticator data too small"}
	}

	cred, err := m.db.FindUserByCredential(credentialID)
	if err != nil {
		return LoginResult{Error: "credential not found"}
	}

	rpHash := sha256Sum([]byte(m.rpID))
	if !bytesEqual(rpHash, authData[:32]) {
		return LoginResult{Error: "rpIdHash mismatch"}
	}

	flags := authData[32]
	if flags&0x01 == 0 {
		return LoginResult{Error: "user not present"}
	}

	var signCount uint32
	if len(authData) >= 37 {
		signCount = uint32(authData[33])<<24 | uint32(authData[34])<<16 | uint32(authData[35])<<8 | uint32(authData[36])
		if signCount < cred.SignCount {
			return LoginResult{Error: "sign count regression"}
		}
	}

	clientDataJSON := clientData
	challengeStr := extractJSONString(clientDataJSON, "challenge")
	if challengeStr == "" {
		return LoginResult{Error: "missing challenge"}
	}
	if err := m.consumeChallengeEitherForm(challengeStr); err != nil {
		return LoginResult{Error: err.Error()}
	}

	origin := extractJSONString(clientDataJSON, "origin")
	if origin != m.origin {
		return LoginResult{Error: "origin mismatch"}
	}

	clientHash := sha256Sum(clientDataJSON)
	signedData := append(append([]byte{}, authData...), clientHash...)

	pub, err := ecdsaPublicKeyFromSPKI(cred.PublicKey)
	if err != nil {
		return LoginResult{Error: "bad public key"}
	}
	digest := sha256Sum(signedData)
	if !ecdsa.VerifyASN1(pub, digest, signature) {
		return LoginResult{Error: "signature verify failed"}
	}

	sessionID, err := m.IssueSession(cred.ID, cred.Email, "auth")
	if err != nil {
		return LoginResult{Error: "failed to create session"}
	}

	if err := m.db.UpdateSignCount(credentialID, signCount); err != nil {
		return LoginResult{Error: "failed to persist sign count"}
	}

	return LoginResult{OK: true, User: cred.Email, SessionID: sessionID}
}

// consumeChallengeEitherForm tries the challenge string as stored
// verbatim, then (if that fails) as a base64url-decoded-and-re-encoded
// canonical form, matching the original's chal_canon fallback — clients
// occasionally round-trip the challenge through their own base64
// variant before echoing it back in clientDataJSON.
func (m *Manager) consumeChallengeEitherForm(challenge string) error {
	if err := m.consumeChallenge(challenge); err == nil {
		return nil
	}
	decoded, err := base64URLDecode(challenge)
	if err != nil || len(decoded) == 0 {
		return errors.New("unknown challenge")
	}
	canonical := base64URLEncode(decoded)
	return m.consumeChallenge(canonical)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
