package autorebase

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/logfields"
)

// Repository identifies a GitHub repository.
type Repository struct {
	Owner string
	Name  string
}

func NewRepository(owner, name string) (Repository, error) {
	if owner == "" {
		return Repository{}, errors.New("repository owner is empty")
	}

	if name == "" {
		return Repository{}, errors.New("repository name is empty")
	}

	return Repository{Owner: owner, Name: name}, nil
}

func (r Repository) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

func (r Repository) LogFields() []zap.Field {
	return []zap.Field{
		logfields.RepositoryOwner(r.Owner),
		logfields.Repository(r.Name),
	}
}
