package vars

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arnavsurve/stepwright/pkg/automation"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gopkg.in/yaml.v3"
)

// Vault looks up a stored secret.
type Vault interface {
	Resolve(ctx context.Context, ref automation.VaultReference) (string, error)
}

// TOTP derives a one-time code from a base32 seed.
type TOTP interface {
	Code(secret string, digits int, at time.Time) (string, error)
}

func (r *Resolver) resolveSecure(ctx context.Context, name string, sp automation.SecureParameter) (string, error) {
	var (
		value string
		err   error
	)
	switch {
	case sp.Vault != nil:
		if r.Vault == nil {
			return "", NewConfigError("secure parameter %q needs a vault but none is configured", name)
		}
		value, err = r.Vault.Resolve(ctx, *sp.Vault)
		if err != nil {
			return "", fmt.Errorf("resolving secure parameter %q: %w", name, err)
		}
		if sp.Vault.Type == automation.VaultFieldTOTP {
			value, err = r.code(value, sp.Vault.Digits)
		}
	case sp.TOTP != nil:
		value, err = r.code(sp.TOTP.Secret, sp.TOTP.Digits)
	default:
		return "", NewConfigError("secure parameter %q has neither vault nor totp", name)
	}
	if err != nil {
		return "", fmt.Errorf("generating totp for secure parameter %q: %w", name, err)
	}
	r.Redactor.Add(value)
	return value, nil
}

func (r *Resolver) code(secret string, digits int) (string, error) {
	gen := r.TOTP
	if gen == nil {
		gen = OTPGenerator{}
	}
	return gen.Code(secret, automation.DigitsOrDefault(digits), r.now())
}

// OTPGenerator implements TOTP with 30 second SHA1 codes.
type OTPGenerator struct{}

func (OTPGenerator) Code(secret string, digits int, at time.Time) (string, error) {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.Digits(digits),
		Algorithm: otp.AlgorithmSHA1,
	})
}

// FileVault is a read-only vault backed by a YAML document of the shape
// vault -> item -> field -> value.
type FileVault struct {
	entries map[string]map[string]map[string]string
}

// LoadFileVault reads the vault file at path.
func LoadFileVault(path string) (*FileVault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vault file %q: %w", path, err)
	}
	var entries map[string]map[string]map[string]string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing vault file %q: %w", path, err)
	}
	return &FileVault{entries: entries}, nil
}

func (v *FileVault) Resolve(_ context.Context, ref automation.VaultReference) (string, error) {
	items, ok := v.entries[ref.VaultName]
	if !ok {
		return "", fmt.Errorf("vault %q not found", ref.VaultName)
	}
	fields, ok := items[ref.ItemName]
	if !ok {
		return "", fmt.Errorf("item %q not found in vault %q", ref.ItemName, ref.VaultName)
	}
	value, ok := fields[ref.FieldName]
	if !ok {
		return "", fmt.Errorf("field %q not found in %s/%s", ref.FieldName, ref.VaultName, ref.ItemName)
	}
	return value, nil
}
