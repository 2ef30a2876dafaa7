package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/aallard/CodeOps-Server-sub001/internal"
)

// Recovery codes are stored as one secretbox blob per account: the
// plaintext is the newline-joined code set. Consuming a code rewrites the
// whole blob under the credential's optimistic version, which is what makes
// a code single-use even when two requests race on it.

const recoveryConsumeRetries = 3

func (e *Engine) mintRecoveryCodes() ([]string, []byte, error) {
	codes := make([]string, 0, e.config.RecoveryCodes.Count)
	for i := 0; i < e.config.RecoveryCodes.Count; i++ {
		code, err := internal.NumericCode(e.config.RecoveryCodes.Digits)
		if err != nil {
			return nil, nil, fmt.Errorf("mint recovery code: %w", err)
		}
		codes = append(codes, code)
	}

	blob, err := e.sealRecoveryCodes(codes)
	if err != nil {
		return nil, nil, err
	}
	return codes, blob, nil
}

func (e *Engine) sealRecoveryCodes(codes []string) ([]byte, error) {
	blob, err := e.secrets.Seal([]byte(strings.Join(codes, "\n")))
	if err != nil {
		return nil, fmt.Errorf("seal recovery codes: %w", err)
	}
	return blob, nil
}

func (e *Engine) openRecoveryCodes(blob []byte) ([]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	plain, err := e.secrets.Open(blob)
	if err != nil {
		return nil, ErrSecretCorrupt
	}
	if len(plain) == 0 {
		return nil, nil
	}
	return strings.Split(string(plain), "\n"), nil
}

// consumeRecoveryCode spends one code from the account's set. It reports
// false without error when the code simply does not match. A version
// conflict means a concurrent request touched the record; the credential is
// reloaded and the code looked up again, so a code spent by the racing
// request cannot be spent twice.
func (e *Engine) consumeRecoveryCode(ctx context.Context, cred *Credential, code string) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return false, nil
	}

	for attempt := 0; attempt < recoveryConsumeRetries; attempt++ {
		codes, err := e.openRecoveryCodes(cred.RecoveryCodes)
		if err != nil {
			return false, err
		}

		idx := matchRecoveryCode(codes, trimmed)
		if idx < 0 {
			return false, nil
		}

		remaining := make([]string, 0, len(codes)-1)
		remaining = append(remaining, codes[:idx]...)
		remaining = append(remaining, codes[idx+1:]...)

		blob, err := e.sealRecoveryCodes(remaining)
		if err != nil {
			return false, err
		}

		cred.RecoveryCodes = blob
		cred.UpdatedAt = e.clock.Now()

		err = e.creds.Save(ctx, cred)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return false, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
		}

		reloaded, err := e.creds.GetByID(ctx, cred.ID)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
		}
		*cred = *reloaded
	}

	return false, ErrConflict
}

// matchRecoveryCode scans the whole set unconditionally so the comparison
// count does not reveal the matching position.
func matchRecoveryCode(codes []string, candidate string) int {
	idx := -1
	for i, code := range codes {
		if subtle.ConstantTimeCompare([]byte(code), []byte(candidate)) == 1 {
			idx = i
		}
	}
	return idx
}
