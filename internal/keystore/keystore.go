// Package keystore persists the process's static Noise keypair in an
// embedded key-value database, created on first run and loaded on every
// run thereafter. The keypair is never rotated in-process.
package keystore

import (
	"fmt"

	"github.com/flynn/noise"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/curve25519"
)

const (
	bucketName    = "identity"
	privateKeyKey = "private_key"
)

// Store wraps a bbolt database holding exactly one keypair.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("keystore: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrGenerate returns the persisted static keypair, generating and
// storing a fresh one on first use.
func (s *Store) LoadOrGenerate() (noise.DHKey, error) {
	var priv []byte

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		v := b.Get([]byte(privateKeyKey))
		if v != nil {
			priv = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("keystore: read private key: %w", err)
	}

	if priv != nil {
		pub, err := curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			return noise.DHKey{}, fmt.Errorf("keystore: derive public key: %w", err)
		}
		return noise.DHKey{Private: priv, Public: pub}, nil
	}

	key, err := noise.DH25519.GenerateKeypair(nil)
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("keystore: generate keypair: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put([]byte(privateKeyKey), key.Private)
	})
	if err != nil {
		return noise.DHKey{}, fmt.Errorf("keystore: persist new keypair: %w", err)
	}

	return key, nil
}
