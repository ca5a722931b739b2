package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"project-chat-service/internal/models"
)

var ErrProjectNotFound = errors.New("project not found")

// ProjectRepository is the authorization collaborator: it answers
// whether an identity belongs to a project.
type ProjectRepository interface {
	GetProject(ctx context.Context, projectID string) (models.Project, error)
	IsMember(ctx context.Context, projectID string, userID string) (bool, error)
}

// ProjectRepo is a sqlx implementation of ProjectRepository.
type ProjectRepo struct {
	db *sqlx.DB
}

// NewProjectRepo constructs a ProjectRepo.
func NewProjectRepo(db *sqlx.DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

// GetProject fetches a project by id.
func (r *ProjectRepo) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	var project models.Project
	err := r.db.GetContext(ctx, &project,
		`SELECT id, name, owner_id, created_at FROM projects WHERE id=$1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Project{}, ErrProjectNotFound
	}
	return project, err
}

// IsMember checks whether the user owns the project or appears in its
// member list.
func (r *ProjectRepo) IsMember(ctx context.Context, projectID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(
            SELECT 1 FROM projects p
            LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $2
            WHERE p.id = $1 AND (p.owner_id = $2 OR m.user_id IS NOT NULL)
        )`, projectID, userID)
	return exists, err
}
