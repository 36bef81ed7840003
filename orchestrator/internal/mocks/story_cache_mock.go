package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storybook-server/shared/models"
)

// MockStoryCache is a mock type for the StoryCache type
type MockStoryCache struct {
	mock.Mock
}

// Get provides a mock function with given fields: ctx, id
func (_m *MockStoryCache) Get(ctx context.Context, id uuid.UUID) (*models.StoryRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.StoryRecord
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.StoryRecord)
	}
	return r0, ret.Error(1)
}

// Set provides a mock function with given fields: ctx, story
func (_m *MockStoryCache) Set(ctx context.Context, story *models.StoryRecord) error {
	ret := _m.Called(ctx, story)
	return ret.Error(0)
}

// NewMockStoryCache creates a new instance of MockStoryCache. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockStoryCache(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStoryCache {
	m := &MockStoryCache{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
