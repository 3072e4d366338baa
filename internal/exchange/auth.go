package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"

	"alphaengine-core/internal/config"
)

// Auth signs REST requests with the exchange's HMAC-SHA256 scheme: the
// query string (including timestamp and recvWindow) is signed with the
// account's API secret and appended as a "signature" parameter. There is
// no on-chain signing step; authentication is purely API-key + HMAC
// against a centralized futures exchange.
type Auth struct {
	apiKey       string
	apiSecret    []byte
	recvWindowMS int64
}

// NewAuth builds an Auth from the exchange section of Config.
func NewAuth(cfg config.Config) *Auth {
	recvWindow := cfg.Exchange.RecvWindowMS
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	return &Auth{
		apiKey:       cfg.Exchange.APIKey,
		apiSecret:    []byte(cfg.Exchange.APISecret),
		recvWindowMS: recvWindow,
	}
}

// APIKey returns the key sent in the X-API-Key header.
func (a *Auth) APIKey() string {
	return a.apiKey
}

// Sign signs the given query values in place, adding timestamp, recvWindow,
// and signature parameters, and returns the encoded query string.
func (a *Auth) Sign(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(a.recvWindowMS, 10))

	sig := hmacHex(a.apiSecret, params.Encode())
	params.Set("signature", sig)
	return params.Encode()
}

// hmacHex computes the hex-encoded HMAC-SHA256 of payload under secret.
func hmacHex(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// ListenKeyHeaders returns the header set needed to create/renew/close a
// user-data-stream listen key (X-API-Key only; listen-key endpoints are not
// query-signed on most exchanges of this shape).
func (a *Auth) ListenKeyHeaders() map[string]string {
	return map[string]string{"X-API-Key": a.apiKey}
}
