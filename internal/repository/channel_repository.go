package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/channel-service/internal/domain"
)

// ChannelRepository manages chat channels.
type ChannelRepository interface {
	Create(ctx context.Context, channel *domain.Channel) error
	GetByID(ctx context.Context, id string) (*domain.Channel, error)
	ListPublic(ctx context.Context) ([]domain.Channel, error)
	Delete(ctx context.Context, id string) error
	TouchLastPublish(ctx context.Context, id string, at time.Time) error
	TouchLastSubscribe(ctx context.Context, id string, at time.Time) error
}

type channelRepository struct {
	pool *pgxpool.Pool
}

// NewChannelRepository builds repository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{pool: pool}
}

func (r *channelRepository) Create(ctx context.Context, channel *domain.Channel) error {
	const query = `
        INSERT INTO channels (id, name, description, public, created_at, last_publish, last_subscribe)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, query,
		channel.ID,
		channel.Name,
		channel.Description,
		channel.Public,
		channel.CreatedAt,
		channel.LastPublish,
		channel.LastSubscribe,
	)
	return err
}

func (r *channelRepository) GetByID(ctx context.Context, id string) (*domain.Channel, error) {
	const query = `
        SELECT id, name, description, public, created_at, last_publish, last_subscribe
        FROM channels WHERE id::text=$1`
	var channel domain.Channel
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&channel.ID,
		&channel.Name,
		&channel.Description,
		&channel.Public,
		&channel.CreatedAt,
		&channel.LastPublish,
		&channel.LastSubscribe,
	); err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) ListPublic(ctx context.Context) ([]domain.Channel, error) {
	const query = `
        SELECT id, name, description, public, created_at, last_publish, last_subscribe
        FROM channels WHERE public ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Channel
	for rows.Next() {
		var channel domain.Channel
		if err := rows.Scan(
			&channel.ID,
			&channel.Name,
			&channel.Description,
			&channel.Public,
			&channel.CreatedAt,
			&channel.LastPublish,
			&channel.LastSubscribe,
		); err != nil {
			return nil, err
		}
		result = append(result, channel)
	}
	return result, rows.Err()
}

func (r *channelRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id::text=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *channelRepository) TouchLastPublish(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE channels SET last_publish=$1 WHERE id::text=$2`, at, id)
	return err
}

func (r *channelRepository) TouchLastSubscribe(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE channels SET last_subscribe=$1 WHERE id::text=$2`, at, id)
	return err
}
