package template

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/messaging-api/internal/repository/memory"
	apperrors "github.com/gatherhq/messaging-api/pkg/errors"
)

func TestTemplateCRUD(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Templates())
	userID := uuid.New()

	tmpl, err := svc.CreateTemplate(context.Background(), userID, "invite", "Hi {{name}}")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, tmpl.ID)

	got, err := svc.GetTemplate(context.Background(), userID, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hi {{name}}", got.Content)

	updated, err := svc.UpdateTemplate(context.Background(), userID, tmpl.ID, "invite v2", "Hello {{name}}")
	require.NoError(t, err)
	assert.Equal(t, "invite v2", updated.Title)

	list, err := svc.ListTemplates(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.DeleteTemplate(context.Background(), userID, tmpl.ID))
	_, err = svc.GetTemplate(context.Background(), userID, tmpl.ID)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))
}

func TestCreateTemplate_Validation(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Templates())

	_, err := svc.CreateTemplate(context.Background(), uuid.New(), "invite", "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))

	_, err = svc.CreateTemplate(context.Background(), uuid.New(), "", "content")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestTemplateOwnership(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Templates())
	owner := uuid.New()
	stranger := uuid.New()

	tmpl, err := svc.CreateTemplate(context.Background(), owner, "invite", "Hi {{name}}")
	require.NoError(t, err)

	// Foreign templates look like they do not exist.
	_, err = svc.GetTemplate(context.Background(), stranger, tmpl.ID)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))

	err = svc.DeleteTemplate(context.Background(), stranger, tmpl.ID)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.CodeOf(err))

	_, err = svc.GetTemplate(context.Background(), owner, tmpl.ID)
	assert.NoError(t, err)
}
