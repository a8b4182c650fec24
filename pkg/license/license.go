package license

// Package license checks that the SDK is entitled to run, and that callers stay within
// the licensed call rate.
//
// A license string is base64url(payload) + "." + base64url(ed25519 signature of payload),
// where payload is the JSON encoding of a Grant.

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrInvalid = errors.New("Invalid license")
var ErrExpired = errors.New("License expired")
var ErrOverMaxQPS = errors.New("License call rate exceeded")

// Grant is what a license entitles the holder to
type Grant struct {
	Expires time.Time `json:"expires"`           // Zero means no expiry
	MaxQPS  int       `json:"max_qps,omitempty"` // Maximum calls per second. Zero means unlimited.
	Version int       `json:"version,omitempty"` // SDK version that the license is for. Zero means any version.
}

// Sign produces a license string for the grant
func Sign(key ed25519.PrivateKey, grant Grant) (string, error) {
	payload, err := json.Marshal(grant)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(key, payload)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks the signature of a license string, and that it was issued for this version of the SDK
func Verify(key ed25519.PublicKey, license string, version int) (*Grant, error) {
	payloadB64, sigB64, ok := strings.Cut(license, ".")
	if !ok {
		return nil, ErrInvalid
	}
	payload, err1 := base64.RawURLEncoding.DecodeString(payloadB64)
	sig, err2 := base64.RawURLEncoding.DecodeString(sigB64)
	if err1 != nil || err2 != nil {
		return nil, ErrInvalid
	}
	if !ed25519.Verify(key, payload, sig) {
		return nil, ErrInvalid
	}
	grant := &Grant{}
	if err := json.Unmarshal(payload, grant); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if grant.Version != 0 && grant.Version != version {
		return nil, fmt.Errorf("%w: issued for version %v, not %v", ErrInvalid, grant.Version, version)
	}
	return grant, nil
}

// Gate is consulted before any work is done
type Gate interface {
	// CheckExpire returns ErrExpired or ErrOverMaxQPS if this call may not proceed. Each call counts toward the rate.
	CheckExpire() error
	// CheckExpireOnly checks expiry without counting toward the rate
	CheckExpireOnly() error
	// Reset forgets the call history
	Reset()
}

// LicenseGate enforces a Grant
type LicenseGate struct {
	grant Grant
	qps   int
	now   func() time.Time

	lock    sync.Mutex
	limiter *rate.Limiter // nil if unlimited
}

// NewGate creates a gate for the grant. If requestedQPS is positive, it further limits the grant's rate.
// now may be nil, in which case time.Now is used.
func NewGate(grant Grant, requestedQPS int, now func() time.Time) *LicenseGate {
	if now == nil {
		now = time.Now
	}
	qps := grant.MaxQPS
	if requestedQPS > 0 && (qps <= 0 || requestedQPS < qps) {
		qps = requestedQPS
	}
	g := &LicenseGate{
		grant: grant,
		qps:   qps,
		now:   now,
	}
	g.Reset()
	return g
}

func (g *LicenseGate) QPS() int {
	return g.qps
}

func (g *LicenseGate) CheckExpireOnly() error {
	if !g.grant.Expires.IsZero() && g.now().After(g.grant.Expires) {
		return ErrExpired
	}
	return nil
}

func (g *LicenseGate) CheckExpire() error {
	if err := g.CheckExpireOnly(); err != nil {
		return err
	}
	g.lock.Lock()
	limiter := g.limiter
	g.lock.Unlock()
	if limiter != nil && !limiter.AllowN(g.now(), 1) {
		return ErrOverMaxQPS
	}
	return nil
}

func (g *LicenseGate) Reset() {
	g.lock.Lock()
	defer g.lock.Unlock()
	if g.qps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(g.qps), g.qps)
	} else {
		g.limiter = nil
	}
}

type allowAll struct{}

func (allowAll) CheckExpire() error     { return nil }
func (allowAll) CheckExpireOnly() error { return nil }
func (allowAll) Reset()                 {}

// AllowAll returns a gate that never refuses. Used by builds without licensing.
func AllowAll() Gate {
	return allowAll{}
}
