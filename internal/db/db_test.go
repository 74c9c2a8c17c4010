package db

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neonsignal.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestCreateAndFindUser(t *testing.T) {
	d := openTestDB(t)

	u, err := d.CreateUserPending("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("CreateUserPending: %v", err)
	}
	if u.ID == 0 {
		t.Fatalf("expected nonzero id")
	}
	if u.Verified {
		t.Fatalf("new user should not be verified")
	}

	byEmail, err := d.FindUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if byEmail.ID != u.ID {
		t.Fatalf("id mismatch: %d vs %d", byEmail.ID, u.ID)
	}

	byID, err := d.FindUserByID(u.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", byID.Email)
	}

	if _, err := d.CreateUserPending("alice@example.com", "Alice Two"); err != ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserCountAndVerifyAndCredential(t *testing.T) {
	d := openTestDB(t)

	u, err := d.CreateUserPending("bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("CreateUserPending: %v", err)
	}

	count, err := d.CountUsers()
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}

	if err := d.SetUserVerified(u.ID); err != nil {
		t.Fatalf("SetUserVerified: %v", err)
	}
	verified, err := d.FindUserByID(u.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if !verified.Verified {
		t.Fatalf("expected verified user")
	}

	credentialID := []byte("credential-123")
	publicKey := []byte("public-key-bytes")
	if err := d.SetUserCredential(u.ID, credentialID, publicKey); err != nil {
		t.Fatalf("SetUserCredential: %v", err)
	}

	byCred, err := d.FindUserByCredential(credentialID)
	if err != nil {
		t.Fatalf("FindUserByCredential: %v", err)
	}
	if byCred.ID != u.ID {
		t.Fatalf("credential lookup mismatch")
	}

	if err := d.UpdateSignCount(credentialID, 7); err != nil {
		t.Fatalf("UpdateSignCount: %v", err)
	}
	updated, err := d.FindUserByID(u.ID)
	if err != nil {
		t.Fatalf("FindUserByID: %v", err)
	}
	if updated.SignCount != 7 {
		t.Fatalf("expected sign count 7, got %d", updated.SignCount)
	}
	if updated.LastLogin.IsZero() {
		t.Fatalf("expected last_login to be set")
	}
}

func TestSessionLifecycle(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateSession(1, "carol@example.com", SessionStatePreWebAuthn, PreWebAuthnTTL)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	s, err := d.ValidateSession(id)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if s.State != SessionStatePreWebAuthn {
		t.Fatalf("unexpected state: %s", s.State)
	}

	if err := d.UpgradeSessionState(id, SessionStateAuth, AuthSessionTTL); err != nil {
		t.Fatalf("UpgradeSessionState: %v", err)
	}
	upgraded, err := d.ValidateSession(id)
	if err != nil {
		t.Fatalf("ValidateSession after upgrade: %v", err)
	}
	if upgraded.State != SessionStateAuth {
		t.Fatalf("expected auth state, got %s", upgraded.State)
	}
	if !upgraded.ExpiresAt.After(time.Now().Add(4*24*time.Hour)) {
		t.Fatalf("expected TTL reset to ~5 days, got %v", upgraded.ExpiresAt)
	}

	if err := d.DeleteSession(id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := d.ValidateSession(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSessionExpiryAndCleanup(t *testing.T) {
	d := openTestDB(t)

	id, err := d.CreateSession(2, "dave@example.com", SessionStateAuth, -time.Second)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := d.ValidateSession(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}

	id2, err := d.CreateSession(3, "erin@example.com", SessionStateAuth, -time.Second)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	removed, err := d.CleanupExpiredSessions()
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if removed == 0 {
		t.Fatalf("expected at least one session removed")
	}
	if _, err := d.ValidateSession(id2); err != ErrNotFound {
		t.Fatalf("expected session gone after cleanup")
	}
}

func TestVerificationLifecycle(t *testing.T) {
	d := openTestDB(t)

	token, err := GenerateVerificationToken()
	if err != nil {
		t.Fatalf("GenerateVerificationToken: %v", err)
	}
	if len(token) != 32 {
		t.Fatalf("expected 32-byte token, got %d", len(token))
	}

	hash := HashToken(token)
	if err := d.StoreVerification(hash, 5, time.Hour); err != nil {
		t.Fatalf("StoreVerification: %v", err)
	}

	v, err := d.FindVerification(hash)
	if err != nil {
		t.Fatalf("FindVerification: %v", err)
	}
	if v.UserID != 5 {
		t.Fatalf("expected user id 5, got %d", v.UserID)
	}
	if !v.UsedAt.IsZero() {
		t.Fatalf("expected unused verification")
	}

	if err := d.MarkVerificationUsed(hash); err != nil {
		t.Fatalf("MarkVerificationUsed: %v", err)
	}
	used, err := d.FindVerification(hash)
	if err != nil {
		t.Fatalf("FindVerification after use: %v", err)
	}
	if used.UsedAt.IsZero() {
		t.Fatalf("expected used_at to be set")
	}

	removed, err := d.CleanupExpiredVerifications()
	if err != nil {
		t.Fatalf("CleanupExpiredVerifications: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed (used), got %d", removed)
	}
	if _, err := d.FindVerification(hash); err != ErrNotFound {
		t.Fatalf("expected verification gone after cleanup")
	}
}

func TestConfigGetSetDelete(t *testing.T) {
	d := openTestDB(t)

	if _, err := d.GetConfig("feature_flag"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := d.SetConfig("feature_flag", "on"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	v, err := d.GetConfig("feature_flag")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if v != "on" {
		t.Fatalf("expected 'on', got %q", v)
	}

	if err := d.DeleteConfig("feature_flag"); err != nil {
		t.Fatalf("DeleteConfig: %v", err)
	}
	if _, err := d.GetConfig("feature_flag"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCodexRecordAndRun(t *testing.T) {
	d := openTestDB(t)

	rec := CodexRecord{
		ID:          "codex-1",
		ContentType: "text/markdown",
		SHA256:      "deadbeef",
		Size:        42,
		CreatedAt:   time.Now(),
		Title:       "Test brief",
	}
	if err := d.StoreCodexRecord(rec); err != nil {
		t.Fatalf("StoreCodexRecord: %v", err)
	}
	got, err := d.FetchCodexRecord("codex-1")
	if err != nil {
		t.Fatalf("FetchCodexRecord: %v", err)
	}
	if got.Title != "Test brief" || got.Size != 42 {
		t.Fatalf("unexpected record: %+v", got)
	}

	run := CodexRun{
		ID:        "run-1",
		BriefID:   "codex-1",
		Status:    "running",
		CreatedAt: time.Now(),
	}
	if err := d.UpsertCodexRun(run); err != nil {
		t.Fatalf("UpsertCodexRun: %v", err)
	}
	gotRun, err := d.FetchCodexRun("run-1")
	if err != nil {
		t.Fatalf("FetchCodexRun: %v", err)
	}
	if gotRun.Status != "running" {
		t.Fatalf("unexpected run status: %s", gotRun.Status)
	}

	run.Status = "completed"
	run.ExitCode = 0
	if err := d.UpsertCodexRun(run); err != nil {
		t.Fatalf("UpsertCodexRun update: %v", err)
	}
	gotRun, err = d.FetchCodexRun("run-1")
	if err != nil {
		t.Fatalf("FetchCodexRun: %v", err)
	}
	if gotRun.Status != "completed" {
		t.Fatalf("expected updated status, got %s", gotRun.Status)
	}
}
