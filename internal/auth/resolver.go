// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package auth

import (
	"context"
	"fmt"
)

// Resolver turns a playback token into the upstream credential.
type Resolver struct {
	store  TokenStore
	sealer *Sealer
}

// NewResolver returns a Resolver. A nil sealer stores credentials in clear.
func NewResolver(store TokenStore, sealer *Sealer) *Resolver {
	return &Resolver{store: store, sealer: sealer}
}

// Resolve validates the token shape, looks it up and opens the credential.
// A credential that fails to open is reported as ErrUnknownToken.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if !ValidToken(token) {
		return "", ErrInvalidToken
	}
	sealed, err := r.store.Lookup(ctx, token)
	if err != nil {
		return "", err
	}
	if r.sealer == nil {
		return sealed, nil
	}
	cred, err := r.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnknownToken, err)
	}
	return cred, nil
}

// Issue seals credential and stores it under token. Used by tooling and tests;
// production tokens come from the account service.
func (r *Resolver) Issue(ctx context.Context, token, credential string) error {
	if !ValidToken(token) {
		return ErrInvalidToken
	}
	value := credential
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(credential)
		if err != nil {
			return err
		}
		value = sealed
	}
	if err := r.store.Put(ctx, token, value, 0); err != nil {
		return fmt.Errorf("auth: store token: %w", err)
	}
	return nil
}
