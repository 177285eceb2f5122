package store

import (
	"context"
	"encoding/json"
	"strings"

	"readerapp/internal/util"
	"readerapp/pkg/auth"
	"readerapp/pkg/domain"
)

// AccountStore keeps accounts as fields of the Users hash, keyed by account.
type AccountStore struct {
	kv     KV
	scheme auth.Scheme
}

// NewAccountStore builds an account registry. A nil scheme stores passwords
// as given.
func NewAccountStore(kv KV, scheme auth.Scheme) *AccountStore {
	if scheme == nil {
		scheme = auth.PlainScheme{}
	}
	return &AccountStore{kv: kv, scheme: scheme}
}

// Register inserts acc unless the account name is taken.
func (s *AccountStore) Register(ctx context.Context, acc domain.Account) error {
	if acc.Account == "" {
		return domain.ErrEmptyAccount
	}
	if acc.Password == "" {
		return domain.ErrEmptyPassword
	}
	encoded, err := s.scheme.Encode(acc.Password)
	if err != nil {
		return domain.StoreError("encode password failed", err)
	}
	acc.Password = encoded
	payload, err := json.Marshal(acc)
	if err != nil {
		return domain.StoreError("encode account failed", err)
	}
	set, err := s.kv.HSetNX(ctx, Key(ClassUsers), acc.Account, string(payload))
	if err != nil {
		return domain.StoreError("save account failed", err)
	}
	if !set {
		return &domain.Error{Code: domain.CodeAlreadyExists, Message: "account already exists"}
	}
	return nil
}

// Login checks password against the stored account. A missing, empty or
// unreadable record is reported as accountNotFound whatever the password.
func (s *AccountStore) Login(ctx context.Context, account, password string) error {
	if account == "" {
		return domain.ErrEmptyAccount
	}
	stored, ok, err := s.load(ctx, account)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAccountNotFound
	}
	if !s.scheme.Verify(password, stored.Password) {
		return domain.ErrWrongPassword
	}
	return nil
}

// Find returns the account without its password.
func (s *AccountStore) Find(ctx context.Context, account string) (domain.Account, bool, error) {
	acc, ok, err := s.load(ctx, account)
	if err != nil || !ok {
		return domain.Account{}, ok, err
	}
	acc.Password = ""
	return acc, true, nil
}

func (s *AccountStore) load(ctx context.Context, account string) (domain.Account, bool, error) {
	raw, ok, err := s.kv.HGet(ctx, Key(ClassUsers), account)
	if err != nil {
		return domain.Account{}, false, domain.StoreError("load account failed", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.Account{}, false, nil
	}
	var acc domain.Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		util.LoggerFromContext(ctx).Warn("undecodable account record", "account", account, "err", err)
		return domain.Account{}, false, nil
	}
	return acc, true, nil
}
