package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/tanvir/tenantbook/internal/authz"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload the identity issuer signs. The core never mints
// tokens in production; SignHS256 exists for local development and tests.
type Claims struct {
	Sub      string `json:"sub"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
	Iat      int64  `json:"iat"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Verifier turns a raw bearer credential into a verified Identity. HS256 is
// the default; RS256 is accepted when a public key is configured.
type Verifier struct {
	secret string
	pubKey *rsa.PublicKey
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

func (v *Verifier) WithRSAPublicKey(key *rsa.PublicKey) *Verifier {
	v.pubKey = key
	return v
}

// Verify checks the signature and expiry and returns the caller's identity.
// An expired credential is indistinguishable from an invalid one.
func (v *Verifier) Verify(token string) (authz.Identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return authz.Identity{}, ErrInvalidToken
	}

	var hdr header
	rawHeader, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return authz.Identity{}, ErrInvalidToken
	}
	if err := json.Unmarshal(rawHeader, &hdr); err != nil {
		return authz.Identity{}, ErrInvalidToken
	}

	unsigned := parts[0] + "." + parts[1]
	switch hdr.Alg {
	case "HS256":
		if !hmac.Equal([]byte(parts[2]), []byte(hmacSHA256(unsigned, v.secret))) {
			return authz.Identity{}, ErrInvalidToken
		}
	case "RS256":
		if v.pubKey == nil {
			return authz.Identity{}, ErrInvalidToken
		}
		sig, err := base64.RawURLEncoding.DecodeString(parts[2])
		if err != nil {
			return authz.Identity{}, ErrInvalidToken
		}
		hash := sha256.Sum256([]byte(unsigned))
		if err := rsa.VerifyPKCS1v15(v.pubKey, crypto.SHA256, hash[:], sig); err != nil {
			return authz.Identity{}, ErrInvalidToken
		}
	default:
		return authz.Identity{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return authz.Identity{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return authz.Identity{}, ErrInvalidToken
	}
	if claims.Exp <= 0 || !time.Unix(claims.Exp, 0).After(v.now()) {
		return authz.Identity{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.TenantID == "" {
		return authz.Identity{}, ErrInvalidToken
	}
	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return authz.Identity{}, ErrInvalidToken
	}

	return authz.Identity{
		UserID:   claims.Sub,
		TenantID: claims.TenantID,
		Role:     role,
	}, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + hmacSHA256(unsigned, secret), nil
}

func hmacSHA256(data, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
