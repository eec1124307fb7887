package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type DetectionRepo struct{ DB *sql.DB }

func NewDetectionRepo(db *sql.DB) *DetectionRepo { return &DetectionRepo{DB: db} }

// Find возвращает закэшированные метки для (imageHash, endpoint).
// Если maxAge > 0 и запись старше, вернёт ErrNotFound (чтобы вызвать детектор заново).
func (r *DetectionRepo) Find(ctx context.Context, imageHash, endpoint string, maxAge time.Duration) ([]string, error) {
	const q = `select labels_json, created_at
	           from detections_cache
	           where image_hash=$1 and endpoint=$2`
	var (
		js string
		ts time.Time
	)
	if err := r.DB.QueryRowContext(ctx, q, imageHash, endpoint).Scan(&js, &ts); err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(ts) > maxAge {
		return nil, ErrNotFound
	}
	var labels []string
	if err := json.Unmarshal([]byte(js), &labels); err != nil {
		// битый кэш — считаем, что записи нет
		return nil, ErrNotFound
	}
	return labels, nil
}

// Upsert сохраняет/обновляет метки. PK: (image_hash, endpoint).
func (r *DetectionRepo) Upsert(ctx context.Context, imageHash, endpoint string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	js, err := json.Marshal(labels)
	if err != nil {
		return err
	}
	const q = `
insert into detections_cache(image_hash, endpoint, labels_json, created_at)
values ($1,$2,$3,$4)
on conflict (image_hash, endpoint)
do update set labels_json=excluded.labels_json, created_at=excluded.created_at`
	_, err = r.DB.ExecContext(ctx, q, imageHash, endpoint, string(js), time.Now().UTC())
	return err
}

// PurgeOlderThan удаляет устаревшие записи кэша.
func (r *DetectionRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	const q = `delete from detections_cache where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
