package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/shared/models"
)

// MockStoryStore is a mock type for the StoryStore type
type MockStoryStore struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, story
func (_m *MockStoryStore) Create(ctx context.Context, story *models.StoryRecord) error {
	ret := _m.Called(ctx, story)
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockStoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.StoryRecord
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID) *models.StoryRecord); ok {
		r0 = rf(ctx, id)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*models.StoryRecord)
		}
	}

	return r0, ret.Error(1)
}

// RunStoryTransaction provides a mock function with given fields: ctx, id, mutate
func (_m *MockStoryStore) RunStoryTransaction(ctx context.Context, id uuid.UUID, mutate func(*models.StoryRecord) error) (*models.StoryRecord, error) {
	ret := _m.Called(ctx, id, mutate)

	var r0 *models.StoryRecord
	if rf, ok := ret.Get(0).(func(context.Context, uuid.UUID, func(*models.StoryRecord) error) *models.StoryRecord); ok {
		r0 = rf(ctx, id, mutate)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*models.StoryRecord)
		}
	}

	return r0, ret.Error(1)
}

// NewMockStoryStore creates a new instance of MockStoryStore. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockStoryStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryStore {
	m := &MockStoryStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
