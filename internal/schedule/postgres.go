package schedule

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

func NewPostgresStore(pool *pgxpool.Pool, loc *time.Location) *PostgresStore {
	if loc == nil {
		loc = time.Local
	}
	return &PostgresStore{pool: pool, loc: loc}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS train_schedules (
	id           BIGSERIAL PRIMARY KEY,
	crossing_id  TEXT NOT NULL,
	train_id     TEXT,
	arrival_text TEXT,
	arrival_at   TIMESTAMPTZ,
	train_type   TEXT
);
CREATE INDEX IF NOT EXISTS train_schedules_crossing_idx ON train_schedules (crossing_id);`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *PostgresStore) ByCrossing(ctx context.Context, crossingID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT train_id, arrival_text, arrival_at, train_type
		FROM train_schedules
		WHERE crossing_id = $1
		ORDER BY id`, crossingID)
	if err != nil {
		return nil, FetchError(crossingID, err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			trainID, arrivalText, trainType *string
			arrivalAt                       *time.Time
		)
		if err := rows.Scan(&trainID, &arrivalText, &arrivalAt, &trainType); err != nil {
			return nil, FetchError(crossingID, err)
		}
		out = append(out, Entry{
			TrainID:     orMissing(deref(trainID)),
			ArrivalTime: formatArrival(deref(arrivalText), arrivalAt, s.loc),
			TrainType:   orMissing(deref(trainType)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, FetchError(crossingID, err)
	}
	return out, nil
}

func (s *PostgresStore) Insert(ctx context.Context, records []Record) error {
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"train_schedules"},
		[]string{"crossing_id", "train_id", "arrival_text", "arrival_at", "train_type"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			var at *time.Time
			if t, ok := r.ArrivalAt(); ok {
				at = &t
			}
			return []any{r.CrossingID, r.TrainID, r.ArrivalTime, at, r.TrainType}, nil
		}),
	)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
