package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/citylens/citylens/pkg/auth"
)

type validatorConfig struct {
	// Keys is the exact set of accepted API key values.
	Keys []string `json:"keys"`
}

type validator struct {
	keys map[string]struct{}
}

// NewValidator builds a validator over a static key allowlist. An empty
// allowlist is accepted at construction time; Validate then rejects every
// credential with auth.ErrNotConfigured.
func NewValidator(keys []string) auth.Validator {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return &validator{keys: set}
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("apikey auth: missing config")
	}

	var cfg validatorConfig
	// Allow config to be either:
	// - JSON object: {"keys":["...","..."]}
	// - JSON array:  ["...","..."]
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &cfg.Keys); err != nil {
			return nil, errors.New("apikey auth: invalid config: " + err.Error())
		}
	} else {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.New("apikey auth: invalid config: " + err.Error())
		}
	}
	return NewValidator(cfg.Keys), nil
}

func (v *validator) Validate(credential string) (*auth.Identity, error) {
	if len(v.keys) == 0 {
		return nil, auth.ErrNotConfigured
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, auth.ErrMissingCredential
	}
	if _, ok := v.keys[credential]; !ok {
		return nil, auth.ErrInvalidCredential
	}
	return &auth.Identity{UserID: HashKey(credential)}, nil
}

// HashKey derives the stable user identity from an API key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func init() {
	auth.RegisterProvider("apikey", NewValidatorFromJSON)
}
