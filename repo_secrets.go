package secrets

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Secrets interface {
	repository.Repository[*Secret]

	Submit(ctx context.Context, userID uuid.UUID, text string) (*Secret, error)
	SubmitTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, text string) (*Secret, error)
	ListAll(ctx context.Context) ([]*Secret, error)
	ListAllTx(ctx context.Context, tx bun.IDB) ([]*Secret, error)
}

type secretsRepo struct {
	repository.Repository[*Secret]
	db *bun.DB
}

var (
	_ Secrets                        = (*secretsRepo)(nil)
	_ repository.Repository[*Secret] = (*secretsRepo)(nil)
)

func NewSecretsRepository(db *bun.DB) Secrets {
	repo := repository.NewRepository[*Secret](db, repository.ModelHandlers[*Secret]{
		NewRecord: func() *Secret { return &Secret{} },
		GetID: func(s *Secret) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Secret, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
	})

	return &secretsRepo{
		Repository: repo,
		db:         db,
	}
}

func (a *secretsRepo) Submit(ctx context.Context, userID uuid.UUID, text string) (*Secret, error) {
	return a.SubmitTx(ctx, a.db, userID, text)
}

func (a *secretsRepo) SubmitTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, text string) (*Secret, error) {
	record := &Secret{
		ID:     uuid.New(),
		Secret: text,
		UserID: userID,
	}

	return a.Repository.CreateTx(ctx, tx, record)
}

func (a *secretsRepo) ListAll(ctx context.Context) ([]*Secret, error) {
	return a.ListAllTx(ctx, a.db)
}

// ListAllTx returns every secret joined with its author. The join is
// strict: a secret whose user row is missing does not show up.
func (a *secretsRepo) ListAllTx(ctx context.Context, tx bun.IDB) ([]*Secret, error) {
	records := []*Secret{}

	err := tx.NewSelect().
		Model(&records).
		Relation("User").
		Where("usr.id IS NOT NULL").
		Where("usr.deleted_at IS NULL").
		Order("sec.created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}
