// Package userdb implements a simple, local, file-backed user database.
//
// It is a sample tuatara.dev/go/smtpd.UserAuthenticator backend: passwords
// are hashed with scrypt before ever touching disk, and the file itself is
// JSON so it is easy to inspect and edit by hand.
//
// Users must be UTF-8 and must not contain whitespace; AddUser enforces
// this via internal/envelope's PRECIS-based normalization.
//
// Writing a database file will not preserve comments or formatting: it is a
// complete rewrite each time, performed atomically via backends/userdb/safeio.
package userdb

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/crypto/scrypt"

	"tuatara.dev/go/smtpd"
	"tuatara.dev/go/smtpd/backends/userdb/safeio"
	"tuatara.dev/go/smtpd/internal/envelope"
)

// scrypt parameters, following the recommendations from the scrypt paper.
// Not configurable for now: the point of this backend is to be simple to
// operate, not tunable.
const (
	scryptLogN  = 14
	scryptR     = 8
	scryptP     = 1
	scryptKeyN  = 32
	scryptSaltN = 16
)

// password is the on-disk (and in-memory) representation of a hashed
// password.
type password struct {
	Salt      []byte `json:"salt"`
	Encrypted []byte `json:"encrypted"`
}

func (p *password) matches(plain string) bool {
	dk, err := scrypt.Key([]byte(plain), p.Salt, 1<<scryptLogN, scryptR, scryptP, scryptKeyN)
	if err != nil {
		// Only fails on invalid parameters, which are fixed above.
		panic(fmt.Sprintf("scrypt failed: %v", err))
	}
	return subtle.ConstantTimeCompare(dk, p.Encrypted) == 1
}

func newPassword(plain string) (*password, error) {
	salt := make([]byte, scryptSaltN)
	if n, err := rand.Read(salt); n != scryptSaltN || err != nil {
		return nil, fmt.Errorf("failed to get salt: %d %v", n, err)
	}

	enc, err := scrypt.Key([]byte(plain), salt, 1<<scryptLogN, scryptR, scryptP, scryptKeyN)
	if err != nil {
		return nil, fmt.Errorf("scrypt failed: %v", err)
	}

	return &password{Salt: salt, Encrypted: enc}, nil
}

// DB represents a single user database.
type DB struct {
	fname string

	// Domain, if set, is the only domain this database's users belong
	// to; Authenticate rejects any other domain outright. Left empty,
	// Authenticate accepts credentials for any domain, deferring
	// entirely to the local-part lookup.
	Domain string

	mu    sync.RWMutex
	users map[string]*password
}

// New returns a new, empty user database backed by the given file name.
func New(fname string) *DB {
	return &DB{fname: fname, users: map[string]*password{}}
}

// Load the database from the given file.
func Load(fname string) (*DB, error) {
	db := New(fname)

	buf, err := os.ReadFile(fname)
	if err != nil {
		return db, err
	}

	if len(buf) == 0 {
		return db, nil
	}

	if err := json.Unmarshal(buf, &db.users); err != nil {
		return db, fmt.Errorf("parsing %q: %v", fname, err)
	}
	if db.users == nil {
		db.users = map[string]*password{}
	}

	return db, nil
}

// Reload the database, refreshing its contents from the file on disk.
func (db *DB) Reload() error {
	newdb, err := Load(db.fname)
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.users = newdb.users
	db.mu.Unlock()
	return nil
}

// Write the database to disk, atomically.
func (db *DB) Write() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	buf, err := json.MarshalIndent(db.users, "", "\t")
	if err != nil {
		return err
	}
	return safeio.WriteFile(db.fname, buf, 0600)
}

// authenticate returns true if the password is valid for the user.
func (db *DB) authenticate(name, plainPassword string) bool {
	db.mu.RLock()
	p, ok := db.users[name]
	db.mu.RUnlock()

	if !ok {
		return false
	}
	return p.matches(plainPassword)
}

// Authenticate implements smtpd.UserAuthenticator. If Domain is set and
// does not match domain, the credential is rejected without even
// consulting the local-part table.
func (db *DB) Authenticate(ctx context.Context, user, domain, password string) (smtpd.FilterResult, error) {
	if db.Domain != "" && domain != db.Domain {
		return smtpd.NoPermanently, nil
	}
	if db.authenticate(user, password) {
		return smtpd.Yes, nil
	}
	return smtpd.NoPermanently, nil
}

// AddUser to the database. If the user is already present, override it.
func (db *DB) AddUser(name, plainPassword string) error {
	norm, err := envelope.NormalizeUser(name)
	if err != nil || name != norm {
		return errors.New("invalid username")
	}

	p, err := newPassword(plainPassword)
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.users[name] = p
	db.mu.Unlock()
	return nil
}

// RemoveUser from the database. Returns true if the user was there.
func (db *DB) RemoveUser(name string) bool {
	db.mu.Lock()
	_, present := db.users[name]
	delete(db.users, name)
	db.mu.Unlock()
	return present
}

// Exists returns true if the user is present.
func (db *DB) Exists(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, present := db.users[name]
	return present
}

// Len returns the number of users in the database.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.users)
}
