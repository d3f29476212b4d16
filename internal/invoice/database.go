package invoice

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-tracker/internal/apperror"
)

const (
	invoiceBucketName = "invoices"
	configBucketName  = "configs"
)

// DB defines the interface for database operations
type DB interface {
	// InsertInvoice stores a new invoice; the ID must not exist yet
	InsertInvoice(inv *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// UpdateInvoice replaces an existing invoice
	UpdateInvoice(inv *Invoice) error

	// DeleteInvoice removes an invoice, reporting whether it existed
	DeleteInvoice(id string) (bool, error)

	// DeleteInvoices removes several invoices, returning how many existed
	DeleteInvoices(ids []string) (int, error)

	// FindInvoices returns one page of matching invoices, newest first
	FindInvoices(filter Filter, pagination Pagination) (*Page, error)

	// FindInvoicesByIDs returns the invoices that exist among ids, newest first
	FindInvoicesByIDs(ids []string) ([]*Invoice, error)

	// FindAllInvoices returns every matching invoice, newest first
	FindAllInvoices(filter Filter) ([]*Invoice, error)

	// GetConfig returns a config value and whether it was present
	GetConfig(key string) (string, bool, error)

	// SetConfig stores a config value. An empty description keeps the previous one.
	SetConfig(key, value, description string) error

	// ListConfigs returns every config entry ordered by key
	ListConfigs() ([]*ConfigEntry, error)

	// DeleteConfig removes a config entry, reporting whether it existed
	DeleteConfig(key string) (bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(invoiceBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(configBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func notFound(id string) error {
	return apperror.Newf(apperror.KindNotFound, "invoice not found: %s", id)
}

func putInvoice(bucket *bbolt.Bucket, inv *Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	return bucket.Put([]byte(inv.ID), data)
}

// InsertInvoice stores a new invoice
func (b *BoltDB) InsertInvoice(inv *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		if bucket.Get([]byte(inv.ID)) != nil {
			return fmt.Errorf("invoice already exists: %s", inv.ID)
		}
		return putInvoice(bucket, inv)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return notFound(id)
		}
		return json.Unmarshal(data, &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateInvoice replaces an existing invoice
func (b *BoltDB) UpdateInvoice(inv *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		if bucket.Get([]byte(inv.ID)) == nil {
			return notFound(inv.ID)
		}
		return putInvoice(bucket, inv)
	})
}

// DeleteInvoice removes an invoice from the database
func (b *BoltDB) DeleteInvoice(id string) (bool, error) {
	deleted, err := b.DeleteInvoices([]string{id})
	return deleted > 0, err
}

// DeleteInvoices removes invoices in a single transaction
func (b *BoltDB) DeleteInvoices(ids []string) (int, error) {
	deleted := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		for _, id := range ids {
			if bucket.Get([]byte(id)) == nil {
				continue
			}
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// scan collects every invoice accepted by keep
func (b *BoltDB) scan(keep func(*Invoice) bool) ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if keep(&inv) {
				invoices = append(invoices, &inv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(invoices)
	return invoices, nil
}

func sortNewestFirst(invoices []*Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		if invoices[i].CreatedAt.Equal(invoices[j].CreatedAt) {
			return invoices[i].ID > invoices[j].ID
		}
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
}

// FindInvoices returns one page of matching invoices
func (b *BoltDB) FindInvoices(filter Filter, pagination Pagination) (*Page, error) {
	all, err := b.FindAllInvoices(filter)
	if err != nil {
		return nil, err
	}

	p := pagination.normalized()
	start := (p.Page - 1) * p.PageSize
	end := start + p.PageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}

	return &Page{
		Items:      all[start:end],
		Total:      len(all),
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalPages: (len(all) + p.PageSize - 1) / p.PageSize,
	}, nil
}

// FindInvoicesByIDs returns the invoices that exist among ids
func (b *BoltDB) FindInvoicesByIDs(ids []string) ([]*Invoice, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	return b.scan(func(inv *Invoice) bool { return wanted[inv.ID] })
}

// FindAllInvoices returns every matching invoice
func (b *BoltDB) FindAllInvoices(filter Filter) ([]*Invoice, error) {
	return b.scan(filter.Matches)
}

func getConfigEntry(bucket *bbolt.Bucket, key string) (*ConfigEntry, error) {
	data := bucket.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var entry ConfigEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling config %s: %w", key, err)
	}
	return &entry, nil
}

// GetConfig returns a config value and whether it was present
func (b *BoltDB) GetConfig(key string) (string, bool, error) {
	var entry *ConfigEntry
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		entry, err = getConfigEntry(tx.Bucket([]byte(configBucketName)), key)
		return err
	})
	if err != nil || entry == nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// SetConfig stores a config value
func (b *BoltDB) SetConfig(key, value, description string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(configBucketName))
		if description == "" {
			existing, err := getConfigEntry(bucket, key)
			if err != nil {
				return err
			}
			if existing != nil {
				description = existing.Description
			}
		}

		data, err := json.Marshal(&ConfigEntry{
			Key:         key,
			Value:       value,
			Description: description,
			UpdatedAt:   b.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// ListConfigs returns every config entry ordered by key
func (b *BoltDB) ListConfigs() ([]*ConfigEntry, error) {
	entries := make([]*ConfigEntry, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(configBucketName)).ForEach(func(k, v []byte) error {
			var entry ConfigEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling config %s: %w", k, err)
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteConfig removes a config entry
func (b *BoltDB) DeleteConfig(key string) (bool, error) {
	existed := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(configBucketName))
		if bucket.Get([]byte(key)) == nil {
			return nil
		}
		existed = true
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
