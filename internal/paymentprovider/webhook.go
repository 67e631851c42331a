package paymentprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature подпись вебхука не совпала.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifySignature проверяет HMAC-SHA256 тела вебхука в шестнадцатеричном виде.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(body, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign вычисляет HMAC-SHA256 тела.
func Sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
