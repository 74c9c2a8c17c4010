package api

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nutsloop/neonsignal/internal/apierr"
	"github.com/nutsloop/neonsignal/internal/db"
)

// verificationTokenTTL mirrors the original's user-register flow: the
// token stays live for 24 hours, long enough for an out-of-band
// delivery channel (email, operator copy/paste) to reach the user.
const verificationTokenTTL = 24 * time.Hour

// maxDemoUsers enforces "single-user demo cap."
const maxDemoUsers = 1

type registerBody struct {
	Email string `json:"email"`
	DisplayName string `json:"display_name"`
}

// handleUserRegister implements POST /api/auth/user/register.
func handleUserRegister(deps *Deps, req Request) (Response, *apierr.Error) {
	var body registerBody
	if err := json.Unmarshal(req.Body, &body); err != nil || body.Email == "" {
		return Response{}, apierr.Validation("malformed request body")
	}

	count, err := deps.DB.CountUsers()
	if err != nil {
		return Response{}, apierr.Internal("count users", err)
	}
	if count >= maxDemoUsers {
		return Response{}, apierr.Conflict("demo instance already has a registered user")
	}

	user, err := deps.DB.CreateUserPending(body.Email, body.DisplayName)
	if err != nil {
		if err == db.ErrEmailTaken {
			return Response{}, apierr.Conflict("email already registered")
		}
		return Response{}, apierr.Internal("create user", err)
	}

	token, err := db.GenerateVerificationToken()
	if err != nil {
		return Response{}, apierr.Internal("generate verification token", err)
	}
	tokenB64 := base64URLEncode(token)
	if err := deps.DB.StoreVerification(db.HashToken(token), user.ID, verificationTokenTTL); err != nil {
		return Response{}, apierr.Internal("store verification", err)
	}

	// Mirrors the original's std::cerr broadcast of the token: this is a
	// deliberate operational surface for a single-user demo deployment,
	// not a debug leftover.
	slog.Info("user registered, verification token issued", "email", user.Email, "token", tokenB64)

	return JSON(200, map[string]any{"ok": true, "token": tokenB64}), nil
}

type verifyBody struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// handleUserVerify implements POST /api/auth/user/verify.
func handleUserVerify(deps *Deps, req Request) (Response, *apierr.Error) {
	var body verifyBody
	if err := json.Unmarshal(req.Body, &body); err != nil || body.Email == "" {
		return Response{}, apierr.Validation("malformed request body")
	}

	user, err := deps.DB.FindUserByEmail(body.Email)
	if err != nil {
		return Response{}, apierr.Validation("unknown email")
	}

	if body.Token == "" {
		if !user.Verified {
			return Response{}, apierr.Validation("user not verified")
		}
		return issuePreWebAuthnSession(deps, user)
	}

	raw, err := base64URLDecodeAPI(body.Token)
	if err != nil {
		return Response{}, apierr.Validation("malformed token")
	}
	hash := db.HashToken(raw)

	verification, err := deps.DB.FindVerification(hash)
	if err != nil {
		return Response{}, apierr.Validation("unknown token")
	}
	if !verification.UsedAt.IsZero() {
		return Response{}, apierr.Validation("token already used")
	}
	if verification.ExpiresAt.Before(time.Now()) {
		return Response{}, apierr.Validation("token expired")
	}
	if verification.UserID != user.ID {
		return Response{}, apierr.Validation("token does not match user")
	}

	if err := deps.DB.MarkVerificationUsed(hash); err != nil {
		return Response{}, apierr.Internal("mark verification used", err)
	}
	if err := deps.DB.SetUserVerified(user.ID); err != nil {
		return Response{}, apierr.Internal("set user verified", err)
	}

	return issuePreWebAuthnSession(deps, user)
}

func issuePreWebAuthnSession(deps *Deps, user db.User) (Response, *apierr.Error) {
	sessionID, err := deps.WebAuthn.IssueSession(user.ID, user.Email, db.SessionStatePreWebAuthn)
	if err != nil {
		return Response{}, apierr.Internal("issue session", err)
	}
	resp := JSON(200, map[string]any{"ok": true})
	resp.Cookies = SessionCookie(sessionID, db.PreWebAuthnTTL)
	return resp, nil
}

// handleLoginOptions implements GET /api/auth/login/options.
func handleLoginOptions(deps *Deps, req Request) (Response, *apierr.Error) {
	opts, err := deps.WebAuthn.MakeLoginOptions()
	if err != nil {
		return Response{}, apierr.Internal("build login options", err)
	}
	return Response{Status: 200, ContentType: "application/json", Body: []byte(opts.JSON)}, nil
}

// handleLoginFinish implements POST /api/auth/login/finish.
func handleLoginFinish(deps *Deps, req Request) (Response, *apierr.Error) {
	result := deps.WebAuthn.FinishLogin(req.Body)
	if !result.OK {
		return Response{}, apierr.Auth(result.Error)
	}
	resp := JSON(200, map[string]any{"ok": true})
	resp.Cookies = SessionCookie(result.SessionID, db.AuthSessionTTL)
	return resp, nil
}

// handleEnrollOptions implements GET /api/auth/user/enroll. The server
// layer only checks that a valid session exists before dispatching here
// (protected-path check in internal/server); the pre_webauthn state is
// checked below.
func handleEnrollOptions(deps *Deps, req Request) (Response, *apierr.Error) {
	if req.SessionState != db.SessionStatePreWebAuthn {
		return Response{}, apierr.Auth("enrollment requires a pre_webauthn session")
	}
	user, err := deps.DB.FindUserByID(req.SessionUserID)
	if err != nil {
		return Response{}, apierr.Auth("unknown session user")
	}
	opts, err := deps.WebAuthn.MakeRegisterOptionsForUser(user.ID, user.Email, user.DisplayName)
	if err != nil {
		return Response{}, apierr.Validation(err.Error())
	}
	return Response{Status: 200, ContentType: "application/json", Body: []byte(opts.JSON)}, nil
}

// handleEnrollFinish implements POST /api/auth/user/enroll.
func handleEnrollFinish(deps *Deps, req Request) (Response, *apierr.Error) {
	if req.SessionState != db.SessionStatePreWebAuthn {
		return Response{}, apierr.Auth("enrollment requires a pre_webauthn session")
	}
	result := deps.WebAuthn.FinishRegisterForUser(req.Body, req.SessionUserID)
	if !result.OK {
		return Response{}, apierr.Validation(result.Error)
	}

	user, err := deps.DB.FindUserByID(req.SessionUserID)
	if err != nil {
		return Response{}, apierr.Auth("unknown session user")
	}
	sessionID, err := deps.WebAuthn.IssueSession(req.SessionUserID, user.Email, db.SessionStateAuth)
	if err != nil {
		return Response{}, apierr.Internal("issue session", err)
	}
	resp := JSON(200, map[string]any{"ok": true})
	resp.Cookies = SessionCookie(sessionID, db.AuthSessionTTL)
	return resp, nil
}

// handleUserCheck implements GET /api/auth/user/check. The email is read
// from the x-user request header; the query string is not read.
func handleUserCheck(deps *Deps, req Request) (Response, *apierr.Error) {
	email := req.Headers["x-user"]
	exists := email != "" && deps.WebAuthn.UserExists(email)
	return JSON(200, map[string]any{"exists": exists}), nil
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func base64URLDecodeAPI(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
