package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"project-chat-service/internal/mocks"
	"project-chat-service/internal/models"
	"project-chat-service/internal/repositories"
)

func setupHistoryRouter(handler *HistoryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u-1")
		c.Next()
	})
	r.GET("/projects/:project_id/messages", handler.GetProjectMessages)
	return r
}

func TestGetProjectMessagesSuccess(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(projectRepo, messageRepo, nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-1").Return(models.Project{ID: "p-1"}, nil).Once()
	projectRepo.On("IsMember", mock.Anything, "p-1", "u-1").Return(true, nil).Once()
	messageRepo.On("ListProjectMessages", mock.Anything, "p-1", 50).
		Return([]models.Message{{ID: "m-1", ProjectID: "p-1", Seq: 1, Body: "hi"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, int64(1), resp.Messages[0].Seq)

	projectRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestGetProjectMessagesCustomLimit(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(projectRepo, messageRepo, nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-1").Return(models.Project{ID: "p-1"}, nil).Once()
	projectRepo.On("IsMember", mock.Anything, "p-1", "u-1").Return(true, nil).Once()
	messageRepo.On("ListProjectMessages", mock.Anything, "p-1", 10).Return([]models.Message{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages?limit=10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestGetProjectMessagesLimitCapped(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(projectRepo, messageRepo, nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-1").Return(models.Project{ID: "p-1"}, nil).Once()
	projectRepo.On("IsMember", mock.Anything, "p-1", "u-1").Return(true, nil).Once()
	messageRepo.On("ListProjectMessages", mock.Anything, "p-1", 200).Return([]models.Message{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages?limit=9999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestGetProjectMessagesInvalidLimit(t *testing.T) {
	handler := NewHistoryHandler(new(mocks.ProjectRepositoryMock), new(mocks.MessageRepositoryMock), nil)
	router := setupHistoryRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages?limit=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProjectMessagesProjectNotFound(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	handler := NewHistoryHandler(projectRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-missing").
		Return(models.Project{}, repositories.ErrProjectNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-missing/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	projectRepo.AssertExpectations(t)
}

func TestGetProjectMessagesNonMemberForbidden(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	handler := NewHistoryHandler(projectRepo, new(mocks.MessageRepositoryMock), nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-1").Return(models.Project{ID: "p-1"}, nil).Once()
	projectRepo.On("IsMember", mock.Anything, "p-1", "u-1").Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	projectRepo.AssertExpectations(t)
}

func TestGetProjectMessagesRepoError(t *testing.T) {
	projectRepo := new(mocks.ProjectRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewHistoryHandler(projectRepo, messageRepo, nil)
	router := setupHistoryRouter(handler)

	projectRepo.On("GetProject", mock.Anything, "p-1").Return(models.Project{ID: "p-1"}, nil).Once()
	projectRepo.On("IsMember", mock.Anything, "p-1", "u-1").Return(true, nil).Once()
	messageRepo.On("ListProjectMessages", mock.Anything, "p-1", 50).
		Return(([]models.Message)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/projects/p-1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	messageRepo.AssertExpectations(t)
}
