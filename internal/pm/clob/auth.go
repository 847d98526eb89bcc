package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrMissingCredentials is returned when a signed request is attempted
// without a complete credential set.
var ErrMissingCredentials = errors.New("clob: missing api credentials")

// Credentials hold the L2 API credential set issued by the venue. The
// secret is base64url encoded as delivered.
type Credentials struct {
	Address    string
	APIKey     string
	Secret     string
	Passphrase string
}

func (c *Credentials) Complete() bool {
	return c != nil && c.Address != "" && c.APIKey != "" && c.Secret != "" && c.Passphrase != ""
}

// Sign attaches the L2 auth headers. The signature is an HMAC-SHA256 over
// timestamp + method + path + body, keyed by the decoded secret, encoded
// back to base64url.
func (c *Credentials) Sign(h http.Header, method, path string, body []byte, now time.Time) error {
	key, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("decode api secret: %w", err)
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	h.Set("POLY-ADDRESS", c.Address)
	h.Set("POLY-SIGNATURE", sig)
	h.Set("POLY-TIMESTAMP", ts)
	h.Set("POLY-API-KEY", c.APIKey)
	h.Set("POLY-PASSPHRASE", c.Passphrase)
	return nil
}
