package kv

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/board/internal/keys"
)

// entry 为 SQL 后端的一行；key 使用二进制列以保证按字节序比较
type entry struct {
	Bucket    string     `gorm:"primaryKey;type:varchar(32)"`
	Key       []byte     `gorm:"primaryKey"`
	Value     []byte     `gorm:"not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (entry) TableName() string { return "kv_entries" }

// Migrate creates the kv_entries table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&entry{})
}

// SQLStore implements Store on one table shared by all buckets. Expired rows
// are filtered on every read and replaced by later writes.
type SQLStore struct {
	db     *gorm.DB
	bucket string
	now    func() time.Time
}

func NewSQLStore(db *gorm.DB, bucket string) *SQLStore {
	return &SQLStore{db: db, bucket: bucket, now: time.Now}
}

// SQLOpener opens bucket stores sharing one gorm handle.
func SQLOpener(db *gorm.DB) Opener {
	return func(bucket string) Store { return NewSQLStore(db, bucket) }
}

func (s *SQLStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("bucket = ?", s.bucket).
		Where("(expires_at IS NULL OR expires_at > ?)", s.now())
}

func (s *SQLStore) row(key string, value []byte, ttl time.Duration) *entry {
	e := &entry{Bucket: s.bucket, Key: []byte(key), Value: value}
	if ttl > 0 {
		at := s.now().Add(ttl)
		e.ExpiresAt = &at
	}
	return e
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.live(s.db.WithContext(ctx)).
		Where("key = ?", []byte(key)).
		Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func upsert(tx *gorm.DB, e *entry) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bucket"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(e).Error
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return upsert(s.db.WithContext(ctx), s.row(key, value, ttl))
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("bucket = ? AND key = ?", s.bucket, []byte(key)).
		Delete(&entry{}).Error
}

// Take deletes the row only if it still holds the value just read; when a
// concurrent Take deleted it first, zero rows are affected and this call
// reports ErrNotFound.
func (s *SQLStore) Take(ctx context.Context, key string) ([]byte, error) {
	db := s.db.WithContext(ctx)
	var e entry
	err := s.live(db).Where("key = ?", []byte(key)).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	res := db.Where("bucket = ? AND key = ? AND value = ?", s.bucket, []byte(key), e.Value).Delete(&entry{})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return e.Value, nil
}

// Update is a compare-and-set on the stored value. An existing row is
// rewritten only while it still holds the value fn saw; a missing key is
// inserted with ON CONFLICT DO NOTHING. Losing either race retries.
func (s *SQLStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	db := s.db.WithContext(ctx)
	k := []byte(key)
	for i := 0; i < maxUpdateRetries; i++ {
		var cur entry
		err := s.live(db).Where("key = ?", k).Take(&cur).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		value, ttl, err := fn(cur.Value, found)
		if err != nil {
			return nil, err
		}
		next := s.row(key, value, ttl)

		var res *gorm.DB
		if found {
			res = s.live(db.Model(&entry{})).
				Where("key = ? AND value = ?", k, cur.Value).
				Updates(map[string]interface{}{"value": next.Value, "expires_at": next.ExpiresAt})
		} else {
			if err := db.Where("bucket = ? AND key = ? AND expires_at <= ?", s.bucket, k, s.now()).
				Delete(&entry{}).Error; err != nil {
				return nil, err
			}
			res = db.Clauses(clause.OnConflict{DoNothing: true}).Create(next)
		}
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return value, nil
		}
	}
	return nil, ErrConflict
}

// Batch applies ops inside one transaction. OpPutNew first clears an expired
// row for its key, then inserts with ON CONFLICT DO NOTHING; zero affected
// rows means the key is live and the transaction is rolled back.
func (s *SQLStore) Batch(ctx context.Context, ops []Op) error {
	if len(ops) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range ops {
			switch op.Type {
			case OpPut:
				if err := upsert(tx, s.row(op.Key, op.Value, op.TTL)); err != nil {
					return err
				}
			case OpPutNew:
				if err := tx.Where("bucket = ? AND key = ? AND expires_at <= ?", s.bucket, []byte(op.Key), s.now()).
					Delete(&entry{}).Error; err != nil {
					return err
				}
				res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s.row(op.Key, op.Value, op.TTL))
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return ErrExists
				}
			case OpAbsent:
				var n int64
				if err := s.live(tx.Model(&entry{})).Where("key = ?", []byte(op.Key)).Count(&n).Error; err != nil {
					return err
				}
				if n > 0 {
					return ErrExists
				}
			case OpDelete:
				if err := tx.Where("bucket = ? AND key = ?", s.bucket, []byte(op.Key)).
					Delete(&entry{}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) query(ctx context.Context, r keys.Range) *gorm.DB {
	q := s.live(s.db.WithContext(ctx).Model(&entry{}))
	switch {
	case r.Gt != "":
		q = q.Where("key > ?", []byte(r.Gt))
	case r.Gte != "":
		q = q.Where("key >= ?", []byte(r.Gte))
	}
	switch {
	case r.Lt != "":
		q = q.Where("key < ?", []byte(r.Lt))
	case r.Lte != "":
		q = q.Where("key <= ?", []byte(r.Lte))
	}
	q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}, Desc: r.Reverse})
	if r.Limit > 0 {
		q = q.Limit(r.Limit)
	}
	return q
}

func (s *SQLStore) Scan(ctx context.Context, r keys.Range) ([]Entry, error) {
	var rows []entry
	if err := s.query(ctx, r).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(rows))
	for i, row := range rows {
		out[i] = Entry{Key: string(row.Key), Value: row.Value}
	}
	return out, nil
}

func (s *SQLStore) ScanKeys(ctx context.Context, r keys.Range) ([]string, error) {
	var ks [][]byte
	if err := s.query(ctx, r).Pluck("key", &ks).Error; err != nil {
		return nil, err
	}
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return out, nil
}

// SweepFunc removes expired entries and reports how many it dropped.
type SweepFunc func(ctx context.Context) (int64, error)

// SQLSweeper sweeps expired rows of every bucket.
func SQLSweeper(db *gorm.DB) SweepFunc {
	return func(ctx context.Context) (int64, error) { return Sweep(ctx, db, time.Now()) }
}

// Sweep deletes expired rows across all buckets. Reads never depend on it.
func Sweep(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now).Delete(&entry{})
	return res.RowsAffected, res.Error
}
