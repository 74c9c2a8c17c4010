package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/nutsloop/neonsignal/internal/db"
)

func openTestManager(t *testing.T) (*Manager, *db.Database) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "webauthn.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewManager("example.test", "https://example.test", database), database
}

func clientDataJSON(challenge, origin string) []byte {
	return []byte(`{"type":"webauthn.create","challenge":"` + challenge + `","origin":"` + origin + `"}`)
}

func buildAuthData(t *testing.T, rpID string, flags byte, signCount uint32, credentialID []byte, pub *ecdsa.PublicKey) []byte {
	t.Helper()
	rpHash := sha256.Sum256([]byte(rpID))
	out := append([]byte{}, rpHash[:]...)
	out = append(out, flags)
	out = append(out, byte(signCount>>24), byte(signCount>>16), byte(signCount>>8), byte(signCount))
	if flags&0x40 != 0 {
		out = append(out, make([]byte, 16)...) // aaguid
		out = append(out, byte(len(credentialID)>>8), byte(len(credentialID)))
		out = append(out, credentialID...)

		xBytes := pub.X.Bytes()
		yBytes := pub.Y.Bytes()
		key := coseKey{Kty: 2, Alg: -7, Crv: 1, X: padTo32(xBytes), Y: padTo32(yBytes)}
		coseBytes, err := cbor.Marshal(key)
		if err != nil {
			t.Fatalf("cbor.Marshal cose key: %v", err)
		}
		out = append(out, coseBytes...)
	}
	return out
}

func TestRegisterAndLoginRoundTrip(t *testing.T) {
	manager, database := openTestManager(t)

	user, err := database.CreateUserPending("alice@example.test", "Alice")
	if err != nil {
		t.Fatalf("CreateUserPending: %v", err)
	}
	if err := database.SetUserVerified(user.ID); err != nil {
		t.Fatalf("SetUserVerified: %v", err)
	}

	regOpts, err := manager.MakeRegisterOptionsForUser(user.ID, user.Email, user.DisplayName)
	if err != nil {
		t.Fatalf("MakeRegisterOptionsForUser: %v", err)
	}
	if regOpts.Challenge == "" {
		t.Fatalf("expected non-empty challenge")
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	credentialID := []byte("credential-one")

	authData := buildAuthData(t, "example.test", 0x41, 0, credentialID, &priv.PublicKey)
	attObj, err := cbor.Marshal(attestationObject{Fmt: "none", AuthData: authData})
	if err != nil {
		t.Fatalf("cbor.Marshal attestation: %v", err)
	}

	clientData := clientDataJSON(regOpts.Challenge, "https://example.test")

	registerBody := []byte(`{"clientDataJSON":"` + base64URLEncode(clientData) +
		`","attestationObject":"` + base64URLEncode(attObj) +
		`","credentialId":"` + base64URLEncode(credentialID) + `"}`)

	regResult := manager.FinishRegisterForUser(registerBody, user.ID)
	if !regResult.OK {
		t.Fatalf("FinishRegisterForUser failed: %s", regResult.Error)
	}

	enrolled, err := database.FindUserByID(user.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if len(enrolled.CredentialID) == 0 {
		t.Fatalf("expected credential id to be stored")
	}

	// Attempting to register again should be rejected.
	again := manager.FinishRegisterForUser(registerBody, user.ID)
	if again.OK {
		t.Fatalf("expected second registration to fail")
	}

	loginOpts, err := manager.MakeLoginOptions()
	if err != nil {
		t.Fatalf("MakeLoginOptions: %v", err)
	}
	if !strings.Contains(loginOpts.JSON, base64URLEncode(credentialID)) {
		t.Fatalf("expected allow-list to contain the enrolled credential: %s", loginOpts.JSON)
	}

	loginClientData := clientDataJSON(loginOpts.Challenge, "https://example.test")
	loginAuthData := buildAuthData(t, "example.test", 0x01, 1, nil, nil)

	clientHash := sha256.Sum256(loginClientData)
	signedData := append(append([]byte{}, loginAuthData...), clientHash[:]...)
	digest := sha256.Sum256(signedData)
	signature, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	loginBody := []byte(`{"credentialId":"` + base64URLEncode(credentialID) +
		`","clientDataJSON":"` + base64URLEncode(loginClientData) +
		`","authenticatorData":"` + base64URLEncode(loginAuthData) +
		`","signature":"` + base64URLEncode(signature) + `"}`)

	loginResult := manager.FinishLogin(loginBody)
	if !loginResult.OK {
		t.Fatalf("FinishLogin failed: %s", loginResult.Error)
	}
	if loginResult.SessionID == "" {
		t.Fatalf("expected a session id")
	}

	session, err := database.ValidateSession(loginResult.SessionID)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if session.State != db.SessionStateAuth {
		t.Fatalf("expected auth state session, got %s", session.State)
	}

	afterLogin, err := database.FindUserByID(user.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if afterLogin.SignCount != 1 {
		t.Fatalf("expected sign count 1, got %d", afterLogin.SignCount)
	}
}

func TestFinishLoginRejectsSignCountRegression(t *testing.T) {
	manager, database := openTestManager(t)

	user, err := database.CreateUserPending("bob@example.test", "Bob")
	if err != nil {
		t.Fatalf("CreateUserPending: %v", err)
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	credentialID := []byte("credential-two")
	spki, err := coseKeyToSPKI(coseKey{
		Kty: 2, Alg: -7, Crv: 1,
		X: padTo32(priv.PublicKey.X.Bytes()),
		Y: padTo32(priv.PublicKey.Y.Bytes()),
	})
	if err != nil {
		t.Fatalf("coseKeyToSPKI: %v", err)
	}
	if err := database.SetUserCredential(user.ID, credentialID, spki); err != nil {
		t.Fatalf("SetUserCredential: %v", err)
	}
	if err := database.UpdateSignCount(credentialID, 5); err != nil {
		t.Fatalf("UpdateSignCount: %v", err)
	}

	loginOpts, err := manager.MakeLoginOptions()
	if err != nil {
		t.Fatalf("MakeLoginOptions: %v", err)
	}

	loginClientData := clientDataJSON(loginOpts.Challenge, "https://example.test")
	loginAuthData := buildAuthData(t, "example.test", 0x01, 2, nil, nil) // lower than stored 5

	clientHash := sha256.Sum256(loginClientData)
	signedData := append(append([]byte{}, loginAuthData...), clientHash[:]...)
	digest := sha256.Sum256(signedData)
	signature, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}

	loginBody := []byte(`{"credentialId":"` + base64URLEncode(credentialID) +
		`","clientDataJSON":"` + base64URLEncode(loginClientData) +
		`","authenticatorData":"` + base64URLEncode(loginAuthData) +
		`","signature":"` + base64URLEncode(signature) + `"}`)

	result := manager.FinishLogin(loginBody)
	if result.OK {
		t.Fatalf("expected sign count regression to be rejected")
	}
	if result.Error != "sign count regression" {
		t.Fatalf("expected sign count regression error, got %q", result.Error)
	}
}

func TestUserExists(t *testing.T) {
	manager, database := openTestManager(t)
	if manager.UserExists("nobody@example.test") {
		t.Fatalf("expected nobody@example.test not to exist")
	}
	if _, err := database.CreateUserPending("carol@example.test", "Carol"); err != nil {
		t.Fatalf("CreateUserPending: %v", err)
	}
	if !manager.UserExists("carol@example.test") {
		t.Fatalf("expected carol@example.test to exist")
	}
}
