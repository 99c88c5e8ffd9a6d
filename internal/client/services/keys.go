// Package services contains the application services of the coursekeeper
// client. This file defines the key service: it turns the user's
// passphrase into the two content keys and keeps the salt and verifier in
// the local metadata table.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/coursekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
	"github.com/dmitrijs2005/coursekeeper/internal/cryptox"
	"github.com/dmitrijs2005/coursekeeper/internal/dbx"
)

const saltSize = 32

var ErrWrongPassphrase = fmt.Errorf("wrong passphrase: %w", common.ErrUnauthorized)

// Keys are the content keys derived from the master key. Atomic seals
// text blobs, Stream seals seekable media.
type Keys struct {
	Atomic []byte
	Stream []byte
}

// Wipe zeroes both keys.
func (k *Keys) Wipe() {
	common.WipeByteArray(k.Atomic)
	common.WipeByteArray(k.Stream)
}

// KeyService unlocks the content keys.
//
// Contract:
//   - Initialized: reports whether a passphrase has been set up.
//   - Unlock: on first use stores a fresh salt and the verifier of the
//     derived master key; afterwards verifies the passphrase against the
//     stored verifier in constant time. Returns ErrWrongPassphrase on
//     mismatch.
//   - Reset: forgets the salt and verifier. Every sealed blob becomes
//     unreadable.
type KeyService interface {
	Initialized(ctx context.Context) (bool, error)
	Unlock(ctx context.Context, passphrase []byte) (*Keys, error)
	Reset(ctx context.Context) error
}

type keyService struct {
	db *sql.DB
}

func NewKeyService(db *sql.DB) KeyService {
	return &keyService{db: db}
}

func (s *keyService) repo() metadata.Repository {
	return metadata.NewSQLiteRepository(s.db)
}

func (s *keyService) Initialized(ctx context.Context) (bool, error) {
	_, err := s.repo().Get(ctx, metadata.KeyVerifier)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *keyService) Unlock(ctx context.Context, passphrase []byte) (*Keys, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase is empty")
	}

	repo := s.repo()
	salt, err := repo.Get(ctx, metadata.KeySalt)
	if errors.Is(err, common.ErrNotFound) {
		return s.initialize(ctx, passphrase)
	}
	if err != nil {
		return nil, err
	}

	savedVerifier, err := repo.Get(ctx, metadata.KeyVerifier)
	if err != nil {
		return nil, fmt.Errorf("salt present but verifier unreadable: %w", err)
	}

	master := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(master)

	if subtle.ConstantTimeCompare(savedVerifier, cryptox.MakeVerifier(master)) == 0 {
		return nil, ErrWrongPassphrase
	}
	return deriveKeys(master)
}

// initialize stores salt and verifier in a single transaction.
func (s *keyService) initialize(ctx context.Context, passphrase []byte) (*Keys, error) {
	salt := common.GenerateRandByteArray(saltSize)
	master := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(master)

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).SetMany(ctx, map[string][]byte{
			metadata.KeySalt:     salt,
			metadata.KeyVerifier: cryptox.MakeVerifier(master),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("saving key metadata: %w", err)
	}
	return deriveKeys(master)
}

func deriveKeys(master []byte) (*Keys, error) {
	atomic, err := cryptox.DeriveSubkey(master, cryptox.PurposeAtomic)
	if err != nil {
		return nil, err
	}
	stream, err := cryptox.DeriveSubkey(master, cryptox.PurposeStream)
	if err != nil {
		return nil, err
	}
	return &Keys{Atomic: atomic, Stream: stream}, nil
}

func (s *keyService) Reset(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Delete(ctx, metadata.KeySalt); err != nil {
			return err
		}
		return repo.Delete(ctx, metadata.KeyVerifier)
	})
}
