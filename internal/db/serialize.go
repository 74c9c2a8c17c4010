package db

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// jsonEscape escapes the five characters that need it in these records:
// '"', '\\', '\n', '\r', '\t'. No other characters are touched since
// every field here is ASCII (emails, display names, hex/base64 strings).
func jsonEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// base64url encodes/decodes byte fields, matching the reference
// implementation's padding-stripped base64url form (base64.RawURLEncoding).
func encodeBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeBytes(s string) []byte {
	if s == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnixSeconds(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// extractString finds "key":"value" and returns the unescaped-enough
// value (these records never round-trip escaped quotes themselves
// through extractString — email/display-name inputs are validated
// upstream to exclude control characters, matching the original's
// extract_json_string which does no unescaping either).
func extractString(j, key string) string {
	marker := `"` + key + `"`
	pos := strings.Index(j, marker)
	if pos < 0 {
		return ""
	}
	pos = strings.IndexByte(j[pos:], ':') + pos
	if pos < 0 {
		return ""
	}
	start := strings.IndexByte(j[pos:], '"')
	if start < 0 {
		return ""
	}
	start += pos + 1
	end := strings.IndexByte(j[start:], '"')
	if end < 0 {
		return ""
	}
	return j[start : start+end]
}

func extractUint64(j, key string) (uint64, bool) {
	marker := `"` + key + `"`
	pos := strings.Index(j, marker)
	if pos < 0 {
		return 0, false
	}
	colon := strings.IndexByte(j[pos:], ':')
	if colon < 0 {
		return 0, false
	}
	pos += colon + 1
	for pos < len(j) && unicode.IsSpace(rune(j[pos])) {
		pos++
	}
	end := pos
	for end < len(j) && j[end] >= '0' && j[end] <= '9' {
		end++
	}
	if end == pos {
		return 0, false
	}
	v, err := strconv.ParseUint(j[pos:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func extractBool(j, key string) (bool, bool) {
	marker := `"` + key + `"`
	pos := strings.Index(j, marker)
	if pos < 0 {
		return false, false
	}
	colon := strings.IndexByte(j[pos:], ':')
	if colon < 0 {
		return false, false
	}
	pos += colon + 1
	for pos < len(j) && unicode.IsSpace(rune(j[pos])) {
		pos++
	}
	if strings.HasPrefix(j[pos:], "true") {
		return true, true
	}
	if strings.HasPrefix(j[pos:], "false") {
		return false, true
	}
	return false, false
}

// userToJSON matches the reference implementation's user serialization
// field-for-field.
func userToJSON(u User) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"id":`)
	b.WriteString(strconv.FormatUint(u.ID, 10))
	b.WriteString(`,"email":"`)
	b.WriteString(jsonEscape(u.Email))
	b.WriteString(`","display_name":"`)
	b.WriteString(jsonEscape(u.DisplayName))
	b.WriteString(`","verified":`)
	b.WriteString(strconv.FormatBool(u.Verified))
	b.WriteByte(',')
	if len(u.CredentialID) > 0 {
		b.WriteString(`"credential_id":"`)
		b.WriteString(encodeBytes(u.CredentialID))
		b.WriteString(`",`)
	}
	if len(u.PublicKey) > 0 {
		b.WriteString(`"public_key":"`)
		b.WriteString(encodeBytes(u.PublicKey))
		b.WriteString(`",`)
	}
	b.WriteString(`"sign_count":`)
	b.WriteString(strconv.FormatUint(uint64(u.SignCount), 10))
	b.WriteString(`,"created_at":`)
	b.WriteString(strconv.FormatInt(unixSeconds(u.CreatedAt), 10))
	b.WriteString(`,"last_login":`)
	b.WriteString(strconv.FormatInt(unixSeconds(u.LastLogin), 10))
	b.WriteByte('}')
	return b.String()
}

// userFromJSON matches user_from_json: requires id and a non-empty
// email to be considered valid.
func userFromJSON(j string) (User, bool) {
	id, idOK := extractUint64(j, "id")
	email := extractString(j, "email")
	if !idOK || email == "" {
		return User{}, false
	}
	verified, _ := extractBool(j, "verified")
	signCount, _ := extractUint64(j, "sign_count")
	created, _ := extractUint64(j, "created_at")
	lastLogin, _ := extractUint64(j, "last_login")
	return User{
		ID: id,
		Email: email,
		DisplayName: extractString(j, "display_name"),
		Verified: verified,
		CredentialID: decodeBytes(extractString(j, "credential_id")),
		PublicKey: decodeBytes(extractString(j, "public_key")),
		SignCount: uint32(signCount),
		CreatedAt: fromUnixSeconds(int64(created)),
		LastLogin: fromUnixSeconds(int64(lastLogin)),
	}, true
}

func sessionToJSON(s Session) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"user_id":`)
	b.WriteString(strconv.FormatUint(s.UserID, 10))
	b.WriteString(`,"user":"`)
	b.WriteString(jsonEscape(s.User))
	b.WriteString(`","state":"`)
	b.WriteString(jsonEscape(s.State))
	b.WriteString(`","created_at":`)
	b.WriteString(strconv.FormatInt(unixSeconds(s.CreatedAt), 10))
	b.WriteString(`,"expires_at":`)
	b.WriteString(strconv.FormatInt(unixSeconds(s.ExpiresAt), 10))
	b.WriteByte('}')
	return b.String()
}

func sessionFromJSON(j string) (Session, bool) {
	userID, userIDOK := extractUint64(j, "user_id")
	user := extractString(j, "user")
	created, createdOK := extractUint64(j, "created_at")
	expires, expiresOK := extractUint64(j, "expires_at")
	if !userIDOK || user == "" || !createdOK || !expiresOK {
		return Session{}, false
	}
	state := extractString(j, "state")
	if state == "" {
		state = SessionStateAuth
	}
	return Session{
		UserID: userID,
		User: user,
		State: state,
		CreatedAt: fromUnixSeconds(int64(created)),
		ExpiresAt: fromUnixSeconds(int64(expires)),
	}, true
}

func verificationToJSON(v Verification) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"user_id":`)
	b.WriteString(strconv.FormatUint(v.UserID, 10))
	b.WriteString(`,"expires_at":`)
	b.WriteString(strconv.FormatInt(unixSeconds(v.ExpiresAt), 10))
	b.WriteString(`,"used_at":`)
	b.WriteString(strconv.FormatInt(unixSeconds(v.UsedAt), 10))
	b.WriteByte('}')
	return b.String()
}

func verificationFromJSON(j string) (Verification, bool) {
	userID, ok := extractUint64(j, "user_id")
	expires, expiresOK := extractUint64(j, "expires_at")
	if !ok || !expiresOK {
		return Verification{}, false
	}
	used, _ := extractUint64(j, "used_at")
	return Verification{
		UserID: userID,
		ExpiresAt: fromUnixSeconds(int64(expires)),
		UsedAt: fromUnixSeconds(int64(used)),
	}, true
}

func codexRecordToJSON(r CodexRecord) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"id":"` + jsonEscape(r.ID) + `",`)
	b.WriteString(`"content_type":"` + jsonEscape(r.ContentType) + `",`)
	b.WriteString(`"sha256":"` + jsonEscape(r.SHA256) + `",`)
	b.WriteString(`"size":` + strconv.FormatUint(r.Size, 10) + `,`)
	b.WriteString(`"created_at":` + strconv.FormatInt(unixSeconds(r.CreatedAt), 10) + `,`)
	b.WriteString(`"title":"` + jsonEscape(r.Title) + `",`)
	b.WriteString(`"meta_tags":"` + jsonEscape(r.MetaTags) + `",`)
	b.WriteString(`"description":"` + jsonEscape(r.Description) + `",`)
	b.WriteString(`"file_refs":"` + jsonEscape(r.FileRefs) + `",`)
	b.WriteString(`"image_name":"` + jsonEscape(r.ImageName) + `",`)
	b.WriteString(`"image_type":"` + jsonEscape(r.ImageType) + `",`)
	b.WriteString(`"image_alt":"` + jsonEscape(r.ImageAlt) + `",`)
	b.WriteString(`"image_meta":"` + jsonEscape(r.ImageMeta) + `",`)
	b.WriteString(`"image_size":` + strconv.FormatUint(r.ImageSize, 10))
	b.WriteByte('}')
	return b.String()
}

func codexRecordFromJSON(j string) (CodexRecord, bool) {
	id := extractString(j, "id")
	sha := extractString(j, "sha256")
	size, sizeOK := extractUint64(j, "size")
	created, createdOK := extractUint64(j, "created_at")
	if id == "" || !sizeOK || !createdOK {
		return CodexRecord{}, false
	}
	imageSize, _ := extractUint64(j, "image_size")
	return CodexRecord{
		ID: id,
		ContentType: extractString(j, "content_type"),
		SHA256: sha,
		Size: size,
		CreatedAt: fromUnixSeconds(int64(created)),
		Title: extractString(j, "title"),
		MetaTags: extractString(j, "meta_tags"),
		Description: extractString(j, "description"),
		FileRefs: extractString(j, "file_refs"),
		ImageName: extractString(j, "image_name"),
		ImageType: extractString(j, "image_type"),
		ImageAlt: extractString(j, "image_alt"),
		ImageMeta: extractString(j, "image_meta"),
		ImageSize: imageSize,
	}, true
}

func codexRunToJSON(r CodexRun) string {
	var b strings.Builder
	b.WriteByte('{')
	b.WriteString(`"id":"` + jsonEscape(r.ID) + `",`)
	b.WriteString(`"brief_id":"` + jsonEscape(r.BriefID) + `",`)
	b.WriteString(`"status":"` + jsonEscape(r.Status) + `",`)
	b.WriteString(`"message":"` + jsonEscape(r.Message) + `",`)
	b.WriteString(`"cmdline":"` + jsonEscape(r.Cmdline) + `",`)
	b.WriteString(`"last_message":"` + jsonEscape(r.LastMessage) + `",`)
	b.WriteString(`"created_at":` + strconv.FormatInt(unixSeconds(r.CreatedAt), 10) + `,`)
	b.WriteString(`"started_at":` + strconv.FormatInt(unixSeconds(r.StartedAt), 10) + `,`)
	b.WriteString(`"finished_at":` + strconv.FormatInt(unixSeconds(r.FinishedAt), 10) + `,`)
	b.WriteString(`"exit_code":` + strconv.Itoa(r.ExitCode) + `,`)
	b.WriteString(`"duration_ms":` + strconv.FormatUint(r.DurationMS, 10) + `,`)
	b.WriteString(`"stdout_bytes":` + strconv.FormatUint(r.StdoutBytes, 10) + `,`)
	b.WriteString(`"stderr_bytes":` + strconv.FormatUint(r.StderrBytes, 10) + `,`)
	b.WriteString(`"artifact_count":` + strconv.FormatUint(r.ArtifactCount, 10))
	b.WriteByte('}')
	return b.String()
}

func codexRunFromJSON(j string) (CodexRun, bool) {
	id := extractString(j, "id")
	briefID := extractString(j, "brief_id")
	status := extractString(j, "status")
	created, createdOK := extractUint64(j, "created_at")
	if id == "" || briefID == "" || status == "" || !createdOK {
		return CodexRun{}, false
	}
	started, _ := extractUint64(j, "started_at")
	finished, _ := extractUint64(j, "finished_at")
	exitCode, _ := extractUint64(j, "exit_code")
	duration, _ := extractUint64(j, "duration_ms")
	stdoutBytes, _ := extractUint64(j, "stdout_bytes")
	stderrBytes, _ := extractUint64(j, "stderr_bytes")
	artifactCount, _ := extractUint64(j, "artifact_count")
	return CodexRun{
		ID: id,
		BriefID: briefID,
		Status: status,
		Message: extractString(j, "message"),
		Cmdline: extractString(j, "cmdline"),
		LastMessage: extractString(j, "last_message"),
		CreatedAt: fromUnixSeconds(int64(created)),
		StartedAt: fromUnixSeconds(int64(started)),
		FinishedAt: fromUnixSeconds(int64(finished)),
		ExitCode: int(exitCode),
		DurationMS: duration,
		StdoutBytes: stdoutBytes,
		StderrBytes: stderrBytes,
		ArtifactCount: artifactCount,
	}, true
}
