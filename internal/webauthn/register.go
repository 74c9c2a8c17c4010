package webauthn

// RegisterResult is the outcome of POST /api/auth/user/enroll.
type RegisterResult struct {
	OK    bool
	Error string
}

// FinishRegisterForUser verifies a WebAuthn attestation for a
// previously-verified, not-yet-enrolled user and stores the resulting
// credential. Mirrors WebAuthnManager::finish_register_for_user:
// preconditions on the user row, challenge/origin checks against
// clientDataJSON, rpIdHash + user-presence/attested-credential flags
// against authData, then COSE-key extraction and SPKI transcoding.
func (m *Manager) FinishRegisterForUser(body []byte, userID uint64) RegisterResult {
	user, err := m.db.FindUserByID(userID)
	if err != nil {
		return RegisterResult{Error: "user not found"}
	}
	if !user.Verified {
		return RegisterResult{Error: "user not verified"}
	}
	if len(user.CredentialID) > 0 {
		return RegisterResult{Error: "credential already registered"}
	}

	clientDataB64 := extractJSONString(body, "clientDataJSON")
	attestationB64 := extractJSONString(body, "attestationObject")
	credentialIDB64 := extractJSONString(body, "credentialId")
	if clientDataB64 == "" || attestationB64 == "" || credentialIDB64 == "" {
		return RegisterResult{Error: "missing fields"}
	}

	clientData, err := base64URLDecode(clientDataB64)
	if err != nil {
		return RegisterResult{Error: "invalid clientDataJSON"}
	}
	attestationObjectBytes, err := base64URLDecode(attestationB64)
	if err != nil {
		return RegisterResult{Error: "invalid attestationObject"}
	}
	credentialID, err := base64URLDecode(credentialIDB64)
	if err != nil {
		return RegisterResult{Error: "invalid credentialId"}
	}

	challengeStr := extractJSONString(clientData, "challenge")
	origin := extractJSONString(clientData, "origin")
	if challengeStr == "" || origin == "" {
		return RegisterResult{Error: "invalid clientData"}
	}
	if err := m.consumeChallengeEitherForm(challengeStr); err != nil {
		return RegisterResult{Error: err.Error()}
	}
	if origin != m.origin {
		return RegisterResult{Error: "origin mismatch"}
	}

	authData, err := decodeAuthData(attestationObjectBytes)
	if err != nil {
		return RegisterResult{Error: "missing authData"}
	}

	rpHash := sha256Sum([]byte(m.rpID))
	if len(authData) < 37 || !bytesEqual(rpHash, authData[:32]) {
		return RegisterResult{Error: "rpIdHash mismatch"}
	}
	flags := authData[32]
	if flags&0x01 == 0 || flags&0x40 == 0 {
		return RegisterResult{Error: "user presence/attested flag missing"}
	}

	cosePublicKeyBytes, err := credentialPublicKeyFromAuthData(authData)
	if err != nil {
		return RegisterResult{Error: "missing credential public key"}
	}
	cose, err := decodeCoseKey(cosePublicKeyBytes)
	if err != nil {
		return RegisterResult{Error: "invalid cose key"}
	}
	spki, err := coseKeyToSPKI(cose)
	if err != nil {
		return RegisterResult{Error: "cannot build public key"}
	}

	if err := m.db.SetUserCredential(userID, credentialID, spki); err != nil {
		return RegisterResult{Error: "failed to persist credential"}
	}

	return RegisterResult{OK: true}
}
