// Package gallery persists named face encodings in PostgreSQL with pgvector
// and finds the nearest enrolled identity for a query encoding.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dudu/facekit/internal/encoder"
)

// Identity is one enrolled person
type Identity struct {
	ID        int
	Name      string
	Count     int
	CreatedAt time.Time
}

// Match is the nearest identity to a query encoding
type Match struct {
	ID       int
	Name     string
	Distance float64
}

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the vector extension and identity table if they don't exist
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			encoding VECTOR(%d) NOT NULL,
			face_count INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
	`, encoder.Dimensions)
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// Enroll stores an encoding under name. Enrolling an existing name folds the
// encoding into a running average of every enrolled sample.
func (s *Store) Enroll(ctx context.Context, name string, enc encoder.Encoding) (int, error) {
	if name == "" {
		return 0, errors.New("identity name is empty")
	}
	if len(enc) != encoder.Dimensions {
		return 0, fmt.Errorf("%w: got %d, want %d", encoder.ErrDimensionMismatch, len(enc), encoder.Dimensions)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var (
		id       int
		oldVec   string
		oldCount int
	)
	// FOR UPDATE serializes concurrent enrollments of the same name
	err = tx.QueryRow(ctx, "SELECT id, encoding::text, face_count FROM identities WHERE name = $1 FOR UPDATE", name).
		Scan(&id, &oldVec, &oldCount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, "INSERT INTO identities (name, encoding) VALUES ($1, $2::vector) RETURNING id",
			name, vecToString(enc)).Scan(&id)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		old, err := parseVector(oldVec)
		if err != nil {
			return 0, fmt.Errorf("identity %d: %w", id, err)
		}
		avg := weightedAverage(old, oldCount, enc, 1)
		_, err = tx.Exec(ctx, "UPDATE identities SET encoding = $1::vector, face_count = $2 WHERE id = $3",
			vecToString(avg), oldCount+1, id)
		if err != nil {
			return 0, err
		}
	}

	return id, tx.Commit(ctx)
}

// Identify returns the enrolled identity nearest to enc. ok is false when the
// gallery is empty or the nearest one is not closer than threshold.
func (s *Store) Identify(ctx context.Context, enc encoder.Encoding, threshold float64) (m Match, ok bool, err error) {
	vecStr := vecToString(enc)
	// <-> is the Euclidean distance operator in pgvector
	query := `SELECT id, name, encoding <-> $1::vector AS distance FROM identities ORDER BY encoding <-> $1::vector ASC LIMIT 1`

	err = s.conn.QueryRow(ctx, query, vecStr).Scan(&m.ID, &m.Name, &m.Distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, err
	}
	return m, m.Distance < threshold, nil
}

// List returns every enrolled identity ordered by name
func (s *Store) List(ctx context.Context) ([]Identity, error) {
	rows, err := s.conn.Query(ctx, "SELECT id, name, face_count, created_at FROM identities ORDER BY name")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Identity, error) {
		var i Identity
		err := row.Scan(&i.ID, &i.Name, &i.Count, &i.CreatedAt)
		return i, err
	})
}

// Remove deletes an identity by name
func (s *Store) Remove(ctx context.Context, name string) error {
	tag, err := s.conn.Exec(ctx, "DELETE FROM identities WHERE name = $1", name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity %q not found", name)
	}
	return nil
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector reads the text form of a pgvector value
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

// weightedAverage merges b into a, weighting each by its sample count
func weightedAverage(a []float32, countA int, b []float32, countB int) []float32 {
	total := float64(countA + countB)
	out := make([]float32, len(b))
	for i := range out {
		var old float64
		if i < len(a) {
			old = float64(a[i])
		}
		out[i] = float32((old*float64(countA) + float64(b[i])*float64(countB)) / total)
	}
	return out
}
