package backupdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/electra-project/ecawallet/internal/zero"
	"github.com/electra-project/ecawallet/snacl"
	"github.com/electra-project/ecawallet/waddrmgr"
	"github.com/lightningnetwork/lnd/clock"
	bolt "go.etcd.io/bbolt"
)

const (
	// recordVersion is the current version of the stored record format.
	recordVersion = 1

	// dbFilePermission is the permission of a newly created database
	// file.
	dbFilePermission = 0600

	// maxNameLen bounds the length of a backup name.
	maxNameLen = 255
)

var (
	// backupBucketName is the name of the bucket holding every backup
	// keyed by name.
	backupBucketName = []byte("backups")
)

var (
	// ErrNotFound is returned for a backup name that is not stored.
	ErrNotFound = errors.New("backup not found")

	// ErrExists is returned when storing a backup under a name in use.
	ErrExists = errors.New("backup already exists")

	// ErrWrongPassphrase is returned when the passphrase does not open
	// the backup.
	ErrWrongPassphrase = errors.New("wrong passphrase for backup")

	// ErrMalformed is returned for a stored record that cannot be
	// decoded.
	ErrMalformed = errors.New("malformed backup record")

	// ErrInvalidName is returned for an empty or oversized backup name.
	ErrInvalidName = errors.New("invalid backup name")

	// ErrEmptyPassphrase is returned when sealing with an empty
	// passphrase.
	ErrEmptyPassphrase = errors.New("backup passphrase is empty")
)

// Info describes a stored backup without opening it.
type Info struct {
	Name    string
	Created time.Time
}

// DB is a file of named wallet backups.  Every backup is sealed with its own
// key derived from the passphrase given to Put, so backups of different
// wallets may share a file.
type DB struct {
	db     *bolt.DB
	clock  clock.Clock
	scrypt waddrmgr.ScryptOptions
}

// Open opens or creates the backup file at path.  Keys of new backups are
// derived with the scrypt options.
func Open(path string, scrypt *waddrmgr.ScryptOptions, clk clock.Clock) (*DB, error) {
	if scrypt == nil {
		scrypt = &waddrmgr.DefaultScryptOptions
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	boltDB, err := bolt.Open(path, dbFilePermission, &bolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = boltDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(backupBucketName)
		return err
	})
	if err != nil {
		boltDB.Close()
		return nil, err
	}

	log.Infof("Opened backup database %s", path)

	return &DB{db: boltDB, clock: clk, scrypt: *scrypt}, nil
}

// Close closes the underlying file.
func (d *DB) Close() error {
	return d.db.Close()
}

func checkName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return ErrInvalidName
	}
	return nil
}

// record is a stored backup.  The serialized format is:
//
//	<version><created><params len><key params><ciphertext>
//
//	version     1 byte
//	created     8 bytes (unix nanoseconds, big endian)
//	params len  2 bytes (big endian)
//	key params  snacl.SecretKey.Marshal
//	ciphertext  remaining bytes
type record struct {
	created    time.Time
	keyParams  []byte
	ciphertext []byte
}

func (r *record) serialize() []byte {
	buf := make([]byte, 1+8+2+len(r.keyParams)+len(r.ciphertext))

	b := buf
	b[0] = recordVersion
	b = b[1:]
	binary.BigEndian.PutUint64(b, uint64(r.created.UnixNano()))
	b = b[8:]
	binary.BigEndian.PutUint16(b, uint16(len(r.keyParams)))
	b = b[2:]
	copy(b, r.keyParams)
	b = b[len(r.keyParams):]
	copy(b, r.ciphertext)

	return buf
}

func deserializeRecord(v []byte) (*record, error) {
	if len(v) < 11 {
		return nil, ErrMalformed
	}
	if v[0] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d",
			ErrMalformed, v[0])
	}
	v = v[1:]

	created := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
	v = v[8:]
	paramsLen := int(binary.BigEndian.Uint16(v))
	v = v[2:]
	if len(v) < paramsLen {
		return nil, ErrMalformed
	}

	// Values returned by bolt are only valid during the transaction.
	r := &record{
		created:    created,
		keyParams:  append([]byte(nil), v[:paramsLen]...),
		ciphertext: append([]byte(nil), v[paramsLen:]...),
	}
	return r, nil
}

// Put seals payload with a key derived from passphrase and stores it under
// name.  Existing backups are never overwritten.
func (d *DB) Put(name string, payload, passphrase []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(passphrase) == 0 {
		return ErrEmptyPassphrase
	}

	// Derive the key before opening the write transaction, scrypt is
	// slow.
	pass := append([]byte(nil), passphrase...)
	defer zero.Bytes(pass)
	key, err := snacl.NewSecretKey(&pass, d.scrypt.N, d.scrypt.R, d.scrypt.P)
	if err != nil {
		return err
	}
	defer key.Zero()

	ciphertext, err := key.Encrypt(payload)
	if err != nil {
		return err
	}
	rec := record{
		created:    d.clock.Now(),
		keyParams:  key.Marshal(),
		ciphertext: ciphertext,
	}

	err = d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(backupBucketName)
		if bucket.Get([]byte(name)) != nil {
			return ErrExists
		}
		return bucket.Put([]byte(name), rec.serialize())
	})
	if err != nil {
		return err
	}

	log.Infof("Stored backup %q", name)

	return nil
}

// fetchRecord reads the record stored under name.
func (d *DB) fetchRecord(name string) (*record, error) {
	var rec *record
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(backupBucketName).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}

		var err error
		rec, err = deserializeRecord(v)
		return err
	})
	return rec, err
}

// checkKeyParams refuses stored key parameters costlier than both the
// default scrypt options and the options of the database.  The parameters
// are read before the passphrase is checked, so they are not trusted.
func (d *DB) checkKeyParams(params *snacl.Parameters) error {
	limit := waddrmgr.DefaultScryptOptions
	if d.scrypt.N > limit.N {
		limit.N = d.scrypt.N
	}
	if d.scrypt.R > limit.R {
		limit.R = d.scrypt.R
	}
	if d.scrypt.P > limit.P {
		limit.P = d.scrypt.P
	}

	if params.N < 2 || params.N > limit.N || params.R < 1 ||
		params.R > limit.R || params.P < 1 || params.P > limit.P {

		return fmt.Errorf("%w: scrypt parameters N=%d r=%d p=%d "+
			"exceed N=%d r=%d p=%d", ErrMalformed, params.N,
			params.R, params.P, limit.N, limit.R, limit.P)
	}
	return nil
}

// Fetch opens the backup stored under name with passphrase and returns the
// payload given to Put.
func (d *DB) Fetch(name string, passphrase []byte) ([]byte, error) {
	rec, err := d.fetchRecord(name)
	if err != nil {
		return nil, err
	}

	var key snacl.SecretKey
	if err := key.Unmarshal(rec.keyParams); err != nil {
		return nil, ErrMalformed
	}
	defer key.Zero()
	if err := d.checkKeyParams(&key.Parameters); err != nil {
		return nil, err
	}

	pass := append([]byte(nil), passphrase...)
	defer zero.Bytes(pass)
	if err := key.DeriveKey(&pass); err != nil {
		if errors.Is(err, snacl.ErrInvalidPassword) {
			return nil, ErrWrongPassphrase
		}
		return nil, err
	}

	payload, err := key.Decrypt(rec.ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	log.Debugf("Opened backup %q", name)

	return payload, nil
}

// Stat returns the description of the backup stored under name.
func (d *DB) Stat(name string) (*Info, error) {
	rec, err := d.fetchRecord(name)
	if err != nil {
		return nil, err
	}
	return &Info{Name: name, Created: rec.created}, nil
}

// List returns every stored backup ordered by name.
func (d *DB) List() ([]Info, error) {
	var infos []Info
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(backupBucketName).ForEach(func(k, v []byte) error {
			rec, err := deserializeRecord(v)
			if err != nil {
				return fmt.Errorf("backup %q: %w", k, err)
			}
			infos = append(infos, Info{
				Name:    string(k),
				Created: rec.created,
			})
			return nil
		})
	})
	return infos, err
}

// Delete removes the backup stored under name.
func (d *DB) Delete(name string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(backupBucketName)
		if bucket.Get([]byte(name)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return err
	}

	log.Infof("Deleted backup %q", name)

	return nil
}
