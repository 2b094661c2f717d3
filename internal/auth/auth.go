// Package auth implements HTTP Digest and Basic authentication (C3):
// nonce minting/validation, HA1/HA2 digest verification, and
// SHA-512-crypt / cleartext password checking.
package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Realm is the fixed HTTP auth realm this server advertises.
const Realm = "DUFS"

// NonceWindow is how long a minted nonce remains valid.
const NonceWindow = 24 * time.Hour

// nonceSeed is the process-wide, once-initialized MD5 context folded
// into every minted nonce. It is never mutated after startup: every
// mint clones it and adds the current timestamp.
type nonceSeed struct {
	uuidBytes []byte
	pid       []byte
}

func newNonceSeed() nonceSeed {
	id := uuid.New()
	pidBuf := make([]byte, 4)
	pid := os.Getpid()
	pidBuf[0] = byte(pid >> 24)
	pidBuf[1] = byte(pid >> 16)
	pidBuf[2] = byte(pid >> 8)
	pidBuf[3] = byte(pid)
	b := id[:]
	return nonceSeed{uuidBytes: append([]byte{}, b...), pid: pidBuf}
}

func (s nonceSeed) mint(secs uint32) string {
	h := md5.New()
	h.Write(s.uuidBytes)
	h.Write(s.pid)
	var secBuf [4]byte
	secBuf[0] = byte(secs >> 24)
	secBuf[1] = byte(secs >> 16)
	secBuf[2] = byte(secs >> 8)
	secBuf[3] = byte(secs)
	h.Write(secBuf[:])
	sum := fmt.Sprintf("%x", h.Sum(nil))
	return fmt.Sprintf("%08x%s", secs, sum[:26])
}

// Authenticator verifies HTTP Digest and Basic credentials against a
// static set of per-user credentials.
type Authenticator struct {
	seed        nonceSeed
	lookupUser  func(user string) (password string, hashed bool, ok bool)
	hashedOnly  bool
	nonceWindow time.Duration
}

// New builds an Authenticator. lookupUser resolves a username to its
// stored credential; hashedOnly disables Digest (it cannot verify
// against a SHA-512-crypt hash) so only Basic is offered.
func New(lookupUser func(user string) (password string, hashed bool, ok bool), hashedOnly bool) *Authenticator {
	return &Authenticator{
		seed:        newNonceSeed(),
		lookupUser:  lookupUser,
		hashedOnly:  hashedOnly,
		nonceWindow: NonceWindow,
	}
}

// Challenges returns the WWW-Authenticate header values to emit on a
// 401, Digest first unless any credential is hashed.
func (a *Authenticator) Challenges(stale bool) []string {
	basic := fmt.Sprintf(`Basic realm=%q`, Realm)
	if a.hashedOnly {
		return []string{basic}
	}
	digest := a.generateDigestChallenge(stale)
	return []string{digest, basic}
}

func (a *Authenticator) generateDigestChallenge(stale bool) string {
	nonce := a.MintNonce()
	staleAttr := ""
	if stale {
		staleAttr = `stale="true", `
	}
	return fmt.Sprintf(`Digest realm=%q, nonce=%q, %sqop="auth", algorithm=MD5-sess`, Realm, nonce, staleAttr)
}

// MintNonce mints a nonce bound to the current time.
func (a *Authenticator) MintNonce() string {
	return a.seed.mint(uint32(time.Now().Unix()))
}

// ValidateNonce checks a nonce was minted by this seed and is still
// within the validity window.
func (a *Authenticator) ValidateNonce(nonce string) bool {
	if len(nonce) != 34 {
		return false
	}
	secs64, err := strconv.ParseUint(nonce[:8], 16, 32)
	if err != nil {
		return false
	}
	secs := uint32(secs64)
	expect := a.seed.mint(secs)
	if subtle.ConstantTimeCompare([]byte(expect), []byte(nonce)) != 1 {
		return false
	}
	now := uint32(time.Now().Unix())
	var age time.Duration
	if now >= secs {
		age = time.Duration(now-secs) * time.Second
	} else {
		age = time.Duration(secs-now) * time.Second
	}
	return age < a.nonceWindow
}

// GetUser extracts the claimed username from an Authorization header
// without validating it, so the access log can record the subject of
// a rejected attempt.
func (a *Authenticator) GetUser(header string) (string, bool) {
	if user, _, ok := parseBasicHeader(header); ok {
		return user, true
	}
	if params, ok := parseDigestHeader(header); ok {
		if user, ok := params["username"]; ok {
			return user, true
		}
	}
	return "", false
}

// Verify checks an Authorization header against the stored
// credentials for method, returning the authenticated username.
func (a *Authenticator) Verify(header, method string) (user string, ok bool) {
	if header == "" {
		return "", false
	}
	if u, pass, isBasic := parseBasicHeader(header); isBasic {
		stored, hashed, found := a.lookupUser(u)
		if !found {
			return "", false
		}
		if hashed {
			return u, verifySha512Crypt(pass, stored)
		}
		return u, constantTimeEqual(pass, stored)
	}
	if a.hashedOnly {
		return "", false
	}
	params, isDigest := parseDigestHeader(header)
	if !isDigest {
		return "", false
	}
	username := params["username"]
	nonce := params["nonce"]
	if username == "" || nonce == "" {
		return "", false
	}
	if !a.ValidateNonce(nonce) {
		return "", false
	}
	stored, hashed, found := a.lookupUser(username)
	if !found || hashed {
		// Digest cannot verify against a hash.
		return "", false
	}
	if validateDigestResponse(params, method, stored) {
		return username, true
	}
	return "", false
}

func validateDigestResponse(params map[string]string, method, password string) bool {
	uri := params["uri"]
	response := params["response"]
	if response == "" {
		return false
	}
	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", params["username"], Realm, password))
	if strings.EqualFold(params["algorithm"], "MD5-sess") {
		ha1 = md5hex(fmt.Sprintf("%s:%s:%s", ha1, params["nonce"], params["cnonce"]))
	}
	ha2 := md5hex(fmt.Sprintf("%s:%s", method, uri))
	qop := params["qop"]
	var expected string
	if qop == "auth" || qop == "auth-int" {
		expected = md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, params["nonce"], params["nc"], params["cnonce"], qop, ha2))
	} else {
		expected = md5hex(fmt.Sprintf("%s:%s:%s", ha1, params["nonce"], ha2))
	}
	return constantTimeEqual(expected, response)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func parseBasicHeader(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseDigestHeader(header string) (map[string]string, bool) {
	const prefix = "Digest "
	if !strings.HasPrefix(header, prefix) {
		return nil, false
	}
	return parseDigestParams(header[len(prefix):]), true
}

// parseDigestParams parses the comma-separated key=value (optionally
// quoted) list in a Digest Authorization header.
func parseDigestParams(s string) map[string]string {
	out := map[string]string{}
	var key strings.Builder
	var val strings.Builder
	inKey := true
	inQuotes := false
	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			out[k] = val.String()
		}
		key.Reset()
		val.Reset()
		inKey = true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && inKey == false:
			inQuotes = !inQuotes
		case c == '=' && inKey && !inQuotes:
			inKey = false
		case c == ',' && !inQuotes:
			flush()
		default:
			if inKey {
				key.WriteByte(c)
			} else {
				val.WriteByte(c)
			}
		}
	}
	flush()
	return out
}

// GuardInput bundles the per-request facts the dispatcher has
// available when it needs to decide auth outcome + challenges.
type GuardInput struct {
	Header string
	Method string
}

// GuardOutcome is what the dispatcher needs to respond: whether an
// Authorization header was present, whether it verified, and who it
// named (for logging purposes, even on failure).
type GuardOutcome struct {
	Present  bool
	OK       bool
	User     string
	Attempted string
}

// Guard runs GetUser+Verify together, the shape the dispatcher
// consumes directly.
func (a *Authenticator) Guard(in GuardInput) GuardOutcome {
	if in.Header == "" {
		return GuardOutcome{}
	}
	attempted, _ := a.GetUser(in.Header)
	user, ok := a.Verify(in.Header, in.Method)
	return GuardOutcome{Present: true, OK: ok, User: user, Attempted: attempted}
}

// WriteChallenges sets WWW-Authenticate headers on w for a 401.
func (a *Authenticator) WriteChallenges(w http.ResponseWriter, stale bool) {
	for _, c := range a.Challenges(stale) {
		w.Header().Add("WWW-Authenticate", c)
	}
}
