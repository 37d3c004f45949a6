package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"paperqa/internal/apperr"
	"paperqa/internal/settings"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, settings.Defaults().Validate())

	cases := map[string]func(s *settings.Settings){
		"top k":       func(s *settings.Settings) { s.QATopK = 0 },
		"chunk size":  func(s *settings.Settings) { s.ChunkSize = -1 },
		"overlap":     func(s *settings.Settings) { s.ChunkOverlap = s.ChunkSize },
		"max results": func(s *settings.Settings) { s.SearchMaxResults = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := settings.Defaults()
			mutate(s)
			assert.ErrorIs(t, s.Validate(), apperr.ErrValidation)
		})
	}
}

func TestService_SeedAPIKey(t *testing.T) {
	t.Run("SeedsEmptyKey", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(settings.Defaults(), nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.GeminiAPIKey == "env-key"
		})).Return(nil)

		assert.NoError(t, settings.NewService(repo).SeedAPIKey(context.Background(), "env-key"))
		repo.AssertExpectations(t)
	})

	t.Run("KeepsStoredKey", func(t *testing.T) {
		repo := new(MockRepository)
		stored := settings.Defaults()
		stored.GeminiAPIKey = "db-key"
		repo.On("Get", mock.Anything).Return(stored, nil)

		assert.NoError(t, settings.NewService(repo).SeedAPIKey(context.Background(), "env-key"))
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("NoEnvKey", func(t *testing.T) {
		repo := new(MockRepository)
		assert.NoError(t, settings.NewService(repo).SeedAPIKey(context.Background(), ""))
		repo.AssertNotCalled(t, "Get", mock.Anything)
	})
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestService_Patch(t *testing.T) {
	t.Run("KeepsUnsetFields", func(t *testing.T) {
		repo := new(MockRepository)
		stored := settings.Defaults()
		stored.GeminiAPIKey = "stored-key-1234"
		repo.On("Get", mock.Anything).Return(stored, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.QATopK == 5 && s.ChunkSize == 1000 && s.GeminiAPIKey == "stored-key-1234"
		})).Return(nil)

		got, err := settings.NewService(repo).Patch(context.Background(), settings.Patch{QATopK: intPtr(5)})
		assert.NoError(t, err)
		assert.Equal(t, 5, got.QATopK)
		assert.Equal(t, 3, stored.QATopK, "stored value must not be mutated")
		repo.AssertExpectations(t)
	})

	t.Run("MaskedKeyIsIgnored", func(t *testing.T) {
		repo := new(MockRepository)
		stored := settings.Defaults()
		stored.GeminiAPIKey = "stored-key-1234"
		repo.On("Get", mock.Anything).Return(stored, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.GeminiAPIKey == "stored-key-1234"
		})).Return(nil)

		_, err := settings.NewService(repo).Patch(context.Background(), settings.Patch{GeminiAPIKey: strPtr(stored.Public().GeminiAPIKey)})
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("ClearsKey", func(t *testing.T) {
		repo := new(MockRepository)
		stored := settings.Defaults()
		stored.GeminiAPIKey = "stored-key-1234"
		repo.On("Get", mock.Anything).Return(stored, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.GeminiAPIKey == ""
		})).Return(nil)

		_, err := settings.NewService(repo).Patch(context.Background(), settings.Patch{GeminiAPIKey: strPtr("")})
		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("InvalidResult", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(settings.Defaults(), nil)

		_, err := settings.NewService(repo).Patch(context.Background(), settings.Patch{ChunkOverlap: intPtr(1000)})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("RepoError", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(nil, errors.New("db down"))

		_, err := settings.NewService(repo).Patch(context.Background(), settings.Patch{QATopK: intPtr(4)})
		assert.EqualError(t, err, "db down")
	})
}

func TestSettings_Public(t *testing.T) {
	s := settings.Defaults()
	assert.Equal(t, "", s.Public().GeminiAPIKey)
	assert.False(t, s.Public().GeminiAPIKeySet)

	s.GeminiAPIKey = "short"
	assert.Equal(t, "****", s.Public().GeminiAPIKey)

	s.GeminiAPIKey = "AIzaSyExampleKeyABCD"
	assert.Equal(t, "****ABCD", s.Public().GeminiAPIKey)
	assert.True(t, s.Public().GeminiAPIKeySet)
}
