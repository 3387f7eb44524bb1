// Package account holds the linked cloud account. It stores the credential
// issued by the external auth collaborator; it never issues or refreshes it.
package account

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kimhsiao/crafttrack/internal/crypto"
	"github.com/kimhsiao/crafttrack/internal/db"
	"github.com/kimhsiao/crafttrack/internal/errors"
	"github.com/kimhsiao/crafttrack/internal/logging"
	"github.com/kimhsiao/crafttrack/internal/models"
)

// Account is the linked identity.
type Account struct {
	UserID   string `json:"user_id"`
	LinkedAt int64  `json:"linked_at"`
}

type stored struct {
	Account
	SealedToken string `json:"token"`
}

// Manager persists the account in the metadata table with the bearer token
// sealed.
type Manager struct {
	store  db.MetadataStore
	sealer *crypto.Sealer
}

// NewManager creates a Manager.
func NewManager(store db.MetadataStore, sealer *crypto.Sealer) *Manager {
	return &Manager{store: store, sealer: sealer}
}

// Link stores userID and token, replacing any previous account.
func (m *Manager) Link(ctx context.Context, userID, token string) error {
	userID, token = strings.TrimSpace(userID), strings.TrimSpace(token)
	if userID == "" || token == "" {
		return errors.New(errors.ErrValidation, "user id and token are required")
	}
	sealed, err := m.sealer.SealString(token)
	if err != nil {
		return err
	}
	data, err := json.Marshal(stored{
		Account:     Account{UserID: userID, LinkedAt: time.Now().UnixMilli()},
		SealedToken: sealed,
	})
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "encode account", err)
	}
	if err := m.store.SetMeta(ctx, models.MetaAccount, string(data)); err != nil {
		return err
	}
	logging.Info("Account linked", map[string]interface{}{"user_id": userID})
	return nil
}

// Unlink forgets the account. Local data is kept.
func (m *Manager) Unlink(ctx context.Context) error {
	if err := m.store.DeleteMeta(ctx, models.MetaAccount); err != nil {
		return err
	}
	logging.Info("Account unlinked")
	return nil
}

func (m *Manager) load(ctx context.Context) (*stored, error) {
	raw, ok, err := m.store.GetMeta(ctx, models.MetaAccount)
	if err != nil || !ok {
		return nil, err
	}
	var s stored
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "decode account", err)
	}
	return &s, nil
}

// Current returns the linked account, or nil.
func (m *Manager) Current(ctx context.Context) (*Account, error) {
	s, err := m.load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return &s.Account, nil
}

// IsLinked reports whether a usable credential is present.
func (m *Manager) IsLinked(ctx context.Context) bool {
	_, err := m.Token(ctx)
	return err == nil
}

// Token returns the bearer credential, or UNAUTHORIZED when none is linked.
func (m *Manager) Token(ctx context.Context) (string, error) {
	s, err := m.load(ctx)
	if err != nil {
		return "", err
	}
	if s == nil || s.SealedToken == "" {
		return "", errors.New(errors.ErrUnauthorized, "no linked account")
	}
	token, err := m.sealer.OpenString(s.SealedToken)
	if err != nil {
		return "", errors.Wrap(errors.ErrUnauthorized, "stored credential unreadable", err)
	}
	return token, nil
}
