// Package proof verifies the proof-key signatures an editing service attaches
// to every WOPI request it sends to the host.
package proof

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// MaxAge is how old a request timestamp may get before the request is
// rejected regardless of its signature.
const MaxAge = 20 * time.Minute

// epochOffsetTicks is the number of 100ns ticks between 0001-01-01 and the
// Unix epoch.
const epochOffsetTicks int64 = 621355968000000000

// KeyPair holds the editor's current and previous proof keys. Either may be
// nil when the discovery document did not carry it.
type KeyPair struct {
	Current  *rsa.PublicKey
	Previous *rsa.PublicKey
}

// Empty reports whether no key is available.
func (k KeyPair) Empty() bool {
	return k.Current == nil && k.Previous == nil
}

// Request is the per-request material that was signed.
type Request struct {
	AccessToken string
	URL         string
	Timestamp   string
	Proof       string
	OldProof    string
}

// Validator checks proof signatures. The zero value checks timestamps
// against the wall clock.
type Validator struct {
	// SkipTimestamp disables the MaxAge check. Only for test and debug
	// deployments.
	SkipTimestamp bool

	// Now returns the current time; defaults to time.Now.
	Now func() time.Time

	Logger hclog.Logger
}

// NewValidator returns a validator that logs to logger.
func NewValidator(skipTimestamp bool, logger hclog.Logger) *Validator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Validator{
		SkipTimestamp: skipTimestamp,
		Logger:        logger.Named("proof"),
	}
}

// Validate reports whether req carries a valid signature under keys. The
// signature is tried as (current key, proof), then (current key, old proof),
// then (previous key, proof).
func (v *Validator) Validate(req Request, keys KeyPair) bool {
	log := v.logger()

	if req.AccessToken == "" || req.URL == "" || req.Proof == "" {
		log.Debug("proof material missing", "url", req.URL)
		return false
	}
	if keys.Current == nil {
		log.Debug("no current proof key available")
		return false
	}

	ticks, err := strconv.ParseInt(strings.TrimSpace(req.Timestamp), 10, 64)
	if err != nil {
		log.Debug("invalid proof timestamp", "timestamp", req.Timestamp)
		return false
	}
	if !v.SkipTimestamp && v.stale(ticks) {
		log.Debug("proof timestamp too old", "timestamp", ticks)
		return false
	}

	digest := sha256.Sum256(ExpectedProof(req.AccessToken, req.URL, ticks))

	if verify(keys.Current, digest[:], req.Proof) {
		return true
	}
	if req.OldProof != "" && verify(keys.Current, digest[:], req.OldProof) {
		return true
	}
	if keys.Previous != nil && verify(keys.Previous, digest[:], req.Proof) {
		return true
	}
	return false
}

func (v *Validator) stale(ticks int64) bool {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return TicksFromTime(now())-ticks >= int64(MaxAge/100)
}

func (v *Validator) logger() hclog.Logger {
	if v.Logger == nil {
		return hclog.NewNullLogger()
	}
	return v.Logger
}

func verify(key *rsa.PublicKey, digest []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest, sig) == nil
}

// ExpectedProof builds the byte layout the editor signs: length-prefixed
// access token, length-prefixed upper-cased URL, then the length-prefixed
// 8-byte timestamp. All integers are big-endian.
func ExpectedProof(accessToken, url string, ticks int64) []byte {
	token := []byte(accessToken)
	upperURL := []byte(strings.ToUpper(url))

	var buf bytes.Buffer
	buf.Grow(4 + len(token) + 4 + len(upperURL) + 4 + 8)

	_ = binary.Write(&buf, binary.BigEndian, int32(len(token)))
	buf.Write(token)
	_ = binary.Write(&buf, binary.BigEndian, int32(len(upperURL)))
	buf.Write(upperURL)
	_ = binary.Write(&buf, binary.BigEndian, int32(8))
	_ = binary.Write(&buf, binary.BigEndian, ticks)

	return buf.Bytes()
}

// TicksFromTime converts t to 100ns ticks since 0001-01-01 UTC, the unit of
// the X-WOPI-TimeStamp header.
func TicksFromTime(t time.Time) int64 {
	return t.UnixNano()/100 + epochOffsetTicks
}

// TimeFromTicks is the inverse of TicksFromTime.
func TimeFromTicks(ticks int64) time.Time {
	return time.Unix(0, (ticks-epochOffsetTicks)*100).UTC()
}
