package state

import (
	"crypto/cipher"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alexjbarnes/link-connect/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.link-connect/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket      = []byte("app")
	cookiesBucket  = []byte("cookies")
	sessionsBucket = []byte("linked_sessions")

	lastEmailKey = []byte("last_email")
	saltKey      = []byte("seal_salt")
	checkKey     = []byte("seal_check")
)

// State wraps a bbolt database holding the Link session cookie and the
// history of completed linking sessions. With a passphrase, cookie values
// are sealed at rest.
type State struct {
	db   *bolt.DB
	aead cipher.AEAD
	now  func() time.Time
}

// LoadAt opens the state database at path, creating it if it does not
// exist. A non-empty passphrase enables sealing; on a database sealed
// before, it must match or ErrWrongPassphrase is returned.
func LoadAt(path, passphrase string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, cookiesBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	s := &State{db: db, now: time.Now}

	if passphrase != "" {
		if err := s.initSealing(passphrase); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

// initSealing derives the cipher from the stored salt, creating salt and
// check value on first use.
func (s *State) initSealing(passphrase string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		salt := b.Get(saltKey)
		if salt == nil {
			fresh, err := newSalt()
			if err != nil {
				return err
			}

			aead, err := deriveAEAD(passphrase, fresh)
			if err != nil {
				return err
			}

			check, err := seal(aead, string(checkKey), []byte(sealCheck))
			if err != nil {
				return err
			}

			if err := b.Put(saltKey, fresh); err != nil {
				return err
			}

			if err := b.Put(checkKey, check); err != nil {
				return err
			}

			s.aead = aead

			return nil
		}

		aead, err := deriveAEAD(passphrase, salt)
		if err != nil {
			return err
		}

		got, err := open(aead, string(checkKey), b.Get(checkKey))
		if err != nil || string(got) != sealCheck {
			return ErrWrongPassphrase
		}

		s.aead = aead

		return nil
	})
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Sealed reports whether cookie values are written sealed.
func (s *State) Sealed() bool {
	return s.aead != nil
}

// Cookie returns the cookie stored under key.
func (s *State) Cookie(key string) (string, bool, error) {
	var rec *models.CookieRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cookiesBucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		rec = &models.CookieRecord{}

		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return "", false, fmt.Errorf("reading cookie %s: %w", key, err)
	}

	if rec == nil {
		return "", false, nil
	}

	if rec.Sealed == nil {
		return rec.Value, true, nil
	}

	if s.aead == nil {
		return "", false, ErrSealed
	}

	plain, err := open(s.aead, key, rec.Sealed)
	if err != nil {
		return "", false, fmt.Errorf("reading cookie %s: %w", key, err)
	}

	return string(plain), true, nil
}

// SetCookie stores value under key, sealed when a passphrase is set.
func (s *State) SetCookie(key, value string) error {
	rec := models.CookieRecord{UpdatedAt: s.now().UTC()}

	if s.aead != nil {
		sealed, err := seal(s.aead, key, []byte(value))
		if err != nil {
			return fmt.Errorf("sealing cookie %s: %w", key, err)
		}

		rec.Sealed = sealed
	} else {
		rec.Value = value
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookiesBucket).Put([]byte(key), data)
	})
}

// DeleteCookie removes key. Missing keys are not an error.
func (s *State) DeleteCookie(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cookiesBucket).Delete([]byte(key))
	})
}

// LastEmail returns the email address last used for lookup, or empty
// string.
func (s *State) LastEmail() string {
	var email string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(lastEmailKey); v != nil {
			email = string(v)
		}

		return nil
	})

	return email
}

// SetLastEmail persists the email address last used for lookup.
func (s *State) SetLastEmail(email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastEmailKey, []byte(email))
	})
}

// SaveLinkedSession records a completed linking session, replacing any
// earlier record with the same ID.
func (s *State) SaveLinkedSession(ls models.LinkedSession) error {
	if ls.ID == "" {
		return fmt.Errorf("linked session id is required for persistence")
	}

	if ls.CompletedAt.IsZero() {
		ls.CompletedAt = s.now().UTC()
	}

	data, err := json.Marshal(ls)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(ls.ID), data)
	})
}

// LinkedSessions returns every recorded session, most recent first.
func (s *State) LinkedSessions() ([]models.LinkedSession, error) {
	var sessions []models.LinkedSession

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var ls models.LinkedSession
			if err := json.Unmarshal(v, &ls); err != nil {
				return err
			}

			sessions = append(sessions, ls)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CompletedAt.After(sessions[j].CompletedAt)
	})

	return sessions, nil
}
