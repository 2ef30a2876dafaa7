package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Register creates an account and logs it in. New accounts start without
// MFA, so a full token pair is issued immediately. A duplicate email fails
// with [ErrConflict].
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}
	if len(req.Password) < e.config.Password.MinLength {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, nil)
		return nil, ErrPasswordPolicy
	}

	hash, err := e.passwords.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := e.clock.Now()
	cred := &Credential{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Active:       true,
		MFAMethod:    MFANone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrConflict, nil)
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialBackend, err)
	}

	access, refresh, err := e.issuePair(ctx, cred.ID)
	if err != nil {
		return nil, err
	}

	e.stampLastLogin(ctx, cred)
	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, cred.ID, "", nil, nil)

	return &RegisterResult{
		UserID:       cred.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}
