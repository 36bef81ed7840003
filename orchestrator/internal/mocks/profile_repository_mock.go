package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/shared/models"
)

// MockCharacterProfileRepository is a mock type for the CharacterProfileRepository type
type MockCharacterProfileRepository struct {
	mock.Mock
}

// GetByIDs provides a mock function with given fields: ctx, ownerID, ids
func (_m *MockCharacterProfileRepository) GetByIDs(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]models.CharacterProfile, error) {
	ret := _m.Called(ctx, ownerID, ids)

	var r0 []models.CharacterProfile
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID, []uuid.UUID) []models.CharacterProfile); ok {
		r0 = rf(ctx, ownerID, ids)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]models.CharacterProfile)
		}
	}

	return r0, ret.Error(1)
}

// NewMockCharacterProfileRepository creates a new instance of MockCharacterProfileRepository. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockCharacterProfileRepository(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCharacterProfileRepository {
	m := &MockCharacterProfileRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
