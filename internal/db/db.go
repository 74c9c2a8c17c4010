package db

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names, one per entity family ("named submaps").
var (
	bucketUsers = []byte("users")
	bucketEmails = []byte("emails")
	bucketCredentials = []byte("credentials")
	bucketSessions = []byte("sessions")
	bucketVerifications = []byte("verifications")
	bucketConfig = []byte("config")
	bucketCodexMeta = []byte("codex_meta")
	bucketCodexRuns = []byte("codex_runs")
)

var allBuckets = [][]byte{
	bucketUsers, bucketEmails, bucketCredentials, bucketSessions,
	bucketVerifications, bucketConfig, bucketCodexMeta, bucketCodexRuns,
}

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("db: not found")

// ErrEmailTaken is returned by CreateUserPending for a duplicate email.
var ErrEmailTaken = errors.New("db: email already registered")

// Database wraps a bbolt.DB, opening one bucket per entity family at
// startup. bbolt serializes writers internally (one write transaction
// at a time; readers run concurrently against a consistent snapshot).
type Database struct {
	bolt *bbolt.DB
}

// Open creates the database directory if needed and opens/creates all
// buckets in one write transaction, mirroring Database::open_maps_.
func Open(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create directory: %w", err)
		}
	}

	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &Database{bolt: bdb}, nil
}

// Close releases the underlying database file.
func (d *Database) Close() error {
	return d.bolt.Close()
}

const configKeyNextUserID = "next_user_id"

func idKey(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

// CreateUserPending creates an unverified user and its email index row,
// rejecting a duplicate email. Mirrors Database::create_user_pending.
func (d *Database) CreateUserPending(email, displayName string) (User, error) {
	var user User
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketEmails)
		if emails.Get([]byte(email)) != nil {
			return ErrEmailTaken
		}

		config := tx.Bucket(bucketConfig)
		nextID := uint64(1)
		if raw := config.Get([]byte(configKeyNextUserID)); raw != nil {
			if v, err := strconv.ParseUint(string(raw), 10, 64); err == nil {
				nextID = v
			}
		}
		if err := config.Put([]byte(configKeyNextUserID), []byte(strconv.FormatUint(nextID+1, 10))); err != nil {
			return err
		}

		user = User{
			ID: nextID,
			Email: email,
			DisplayName: displayName,
			CreatedAt: time.Now(),
		}

		key := idKey(nextID)
		users := tx.Bucket(bucketUsers)
		if err := users.Put(key, []byte(userToJSON(user))); err != nil {
			return err
		}
		return emails.Put([]byte(email), key)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindUserByEmail resolves the email->user_id index then loads the user.
func (d *Database) FindUserByEmail(email string) (User, error) {
	var user User
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(bucketEmails).Get([]byte(email))
		if idRaw == nil {
			return ErrNotFound
		}
		userRaw := tx.Bucket(bucketUsers).Get(idRaw)
		if userRaw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(userRaw))
		if !ok {
			return ErrNotFound
		}
		user = u
		return nil
	})
	return user, err
}

// FindUserByID loads a user directly by id.
func (d *Database) FindUserByID(userID uint64) (User, error) {
	var user User
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get(idKey(userID))
		if raw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		user = u
		return nil
	})
	return user, err
}

// FindUserByCredential resolves the credential_id->user_id index then
// loads the user.
func (d *Database) FindUserByCredential(credentialID []byte) (User, error) {
	var user User
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(bucketCredentials).Get(credentialID)
		if idRaw == nil {
			return ErrNotFound
		}
		raw := tx.Bucket(bucketUsers).Get(idRaw)
		if raw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		user = u
		return nil
	})
	return user, err
}

// SetUserVerified flips the verified flag, used by the register/verify
// flow.
func (d *Database) SetUserVerified(userID uint64) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		key := idKey(userID)
		raw := users.Get(key)
		if raw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		u.Verified = true
		return users.Put(key, []byte(userToJSON(u)))
	})
}

// SetUserCredential stores the enrolled WebAuthn credential against a
// user and adds the credential_id->user_id index row.
func (d *Database) SetUserCredential(userID uint64, credentialID, publicKey []byte) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		key := idKey(userID)
		raw := users.Get(key)
		if raw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		u.CredentialID = credentialID
		u.PublicKey = publicKey
		if err := users.Put(key, []byte(userToJSON(u))); err != nil {
			return err
		}
		return tx.Bucket(bucketCredentials).Put(credentialID, key)
	})
}

// UpdateSignCount updates a credential's sign count and last-login
// timestamp after a successful assertion (login/finish).
func (d *Database) UpdateSignCount(credentialID []byte, signCount uint32) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(bucketCredentials).Get(credentialID)
		if idRaw == nil {
			return ErrNotFound
		}
		users := tx.Bucket(bucketUsers)
		raw := users.Get(idRaw)
		if raw == nil {
			return ErrNotFound
		}
		u, ok := userFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		u.SignCount = signCount
		u.LastLogin = time.Now()
		return users.Put(idRaw, []byte(userToJSON(u)))
	})
}

// ListUsersWithCredential returns every enrolled user (one with a
// stored WebAuthn credential), used to build the login allow-list
// (`GET /api/auth/login/options`). This scans the current-flow `users`
// bucket rather than walking the credentials index bucket.
func (d *Database) ListUsersWithCredential() ([]User, error) {
	var users []User
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, raw []byte) error {
			u, ok := userFromJSON(string(raw))
			if !ok || len(u.CredentialID) == 0 {
				return nil
			}
			users = append(users, u)
			return nil
		})
	})
	return users, err
}

// CountUsers counts all rows in the users bucket, used to enforce the
// single-user demo cap.
func (d *Database) CountUsers() (uint64, error) {
	var count uint64
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// HashToken returns SHA-256(token), the key used in the verifications
// bucket.
func HashToken(token []byte) [32]byte {
	return sha256.Sum256(token)
}

// StoreVerification stores a pending verification token hash with a TTL.
func (d *Database) StoreVerification(tokenHash [32]byte, userID uint64, ttl time.Duration) error {
	v := Verification{UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVerifications).Put(tokenHash[:], []byte(verificationToJSON(v)))
	})
}

// FindVerification loads a verification row by token hash.
func (d *Database) FindVerification(tokenHash [32]byte) (Verification, error) {
	var v Verification
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketVerifications).Get(tokenHash[:])
		if raw == nil {
			return ErrNotFound
		}
		parsed, ok := verificationFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		v = parsed
		return nil
	})
	return v, err
}

// MarkVerificationUsed stamps used_at on a verification row.
func (d *Database) MarkVerificationUsed(tokenHash [32]byte) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVerifications)
		raw := bucket.Get(tokenHash[:])
		if raw == nil {
			return ErrNotFound
		}
		v, ok := verificationFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		v.UsedAt = time.Now()
		return bucket.Put(tokenHash[:], []byte(verificationToJSON(v)))
	})
}

// CleanupExpiredVerifications removes expired or already-used rows,
// called from a timer.
func (d *Database) CleanupExpiredVerifications() (int, error) {
	removed := 0
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketVerifications)
		cursor := bucket.Cursor()
		now := time.Now()
		for k, raw := cursor.First(); k != nil; k, raw = cursor.Next() {
			v, ok := verificationFromJSON(string(raw))
			if !ok {
				continue
			}
			if v.ExpiresAt.Before(now) || !v.UsedAt.IsZero() {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// generateRandomID returns a 32-byte random value, base64url-encoded
// (unpadded). Used for session ids.
func generateRandomID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("db: read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateVerificationToken returns a fresh 32-byte random token, raw
// (not hashed) — the caller stores HashToken(token) and returns the raw
// token to the client user/register flow.
func GenerateVerificationToken() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("db: read random bytes: %w", err)
	}
	return buf, nil
}

// GenerateVerificationTokenHex returns a fresh random hex id, used for
// codex run ids where a filesystem- and URL-safe
// identifier is needed rather than a cookie value.
func GenerateVerificationTokenHex() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("db: read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSession issues a new session row with a random id and the
// given TTL, returning the id.
func (d *Database) CreateSession(userID uint64, user, state string, ttl time.Duration) (string, error) {
	sessionID, err := generateRandomID()
	if err != nil {
		return "", err
	}
	now := time.Now()
	session := Session{
		ID: sessionID,
		UserID: userID,
		User: user,
		State: state,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err = d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sessionID), []byte(sessionToJSON(session)))
	})
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// ValidateSession loads a session and deletes it in place if expired,
// mirroring Database::validate_session's read-then-maybe-delete shape.
func (d *Database) ValidateSession(sessionID string) (Session, error) {
	var session Session
	var expired bool
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(sessionID))
		if raw == nil {
			return ErrNotFound
		}
		s, ok := sessionFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		s.ID = sessionID
		session = s
		expired = s.ExpiresAt.Before(time.Now())
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if expired {
		_ = d.DeleteSession(sessionID)
		return Session{}, ErrNotFound
	}
	return session, nil
}

// UpdateSessionExpiry resets a session's TTL from now.
func (d *Database) UpdateSessionExpiry(sessionID string, ttl time.Duration) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		raw := bucket.Get([]byte(sessionID))
		if raw == nil {
			return ErrNotFound
		}
		s, ok := sessionFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		s.ID = sessionID
		s.ExpiresAt = time.Now().Add(ttl)
		return bucket.Put([]byte(sessionID), []byte(sessionToJSON(s)))
	})
}

// UpgradeSessionState moves a session to a new state with a fresh TTL,
// invariant 4 ("state upgrades reset the TTL").
func (d *Database) UpgradeSessionState(sessionID, newState string, newTTL time.Duration) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		raw := bucket.Get([]byte(sessionID))
		if raw == nil {
			return ErrNotFound
		}
		s, ok := sessionFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		s.ID = sessionID
		s.State = newState
		s.ExpiresAt = time.Now().Add(newTTL)
		return bucket.Put([]byte(sessionID), []byte(sessionToJSON(s)))
	})
}

// DeleteSession removes a session row unconditionally.
func (d *Database) DeleteSession(sessionID string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(sessionID))
	})
}

// CleanupExpiredSessions removes every session past its expiry.
func (d *Database) CleanupExpiredSessions() (int, error) {
	removed := 0
	err := d.bolt.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketSessions)
		cursor := bucket.Cursor()
		now := time.Now()
		for k, raw := cursor.First(); k != nil; k, raw = cursor.Next() {
			s, ok := sessionFromJSON(string(raw))
			if !ok {
				continue
			}
			if s.ExpiresAt.Before(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// GetConfig reads a raw config property.
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		value = string(raw)
		return nil
	})
	return value, err
}

// SetConfig upserts a raw config property.
func (d *Database) SetConfig(key, value string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(key), []byte(value))
	})
}

// DeleteConfig removes a config property.
func (d *Database) DeleteConfig(key string) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Delete([]byte(key))
	})
}

// StoreCodexRecord persists a codex content entry's metadata (the
// payload/image bytes themselves live on disk, not in this bucket).
func (d *Database) StoreCodexRecord(r CodexRecord) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCodexMeta).Put([]byte(r.ID), []byte(codexRecordToJSON(r)))
	})
}

// FetchCodexRecord loads a codex content entry's metadata by id.
func (d *Database) FetchCodexRecord(id string) (CodexRecord, error) {
	var rec CodexRecord
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCodexMeta).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		r, ok := codexRecordFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		rec = r
		return nil
	})
	return rec, err
}

// ListCodexRecords returns every codex content entry's metadata, used by
// the codex/list endpoint.
func (d *Database) ListCodexRecords() ([]CodexRecord, error) {
	var records []CodexRecord
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCodexMeta).ForEach(func(_, raw []byte) error {
			r, ok := codexRecordFromJSON(string(raw))
			if !ok {
				return nil
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

// UpsertCodexRun creates or updates a codex run row.
func (d *Database) UpsertCodexRun(r CodexRun) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCodexRuns).Put([]byte(r.ID), []byte(codexRunToJSON(r)))
	})
}

// FetchCodexRun loads a codex run row by id, used by the status-polling
// endpoint.
func (d *Database) FetchCodexRun(runID string) (CodexRun, error) {
	var run CodexRun
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCodexRuns).Get([]byte(runID))
		if raw == nil {
			return ErrNotFound
		}
		r, ok := codexRunFromJSON(string(raw))
		if !ok {
			return ErrNotFound
		}
		run = r
		return nil
	})
	return run, err
}
