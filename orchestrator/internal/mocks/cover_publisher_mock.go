package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/shared/messaging"
)

// MockCoverTaskPublisher is a mock type for the CoverTaskPublisher type
type MockCoverTaskPublisher struct {
	mock.Mock
}

// PublishCoverTask provides a mock function with given fields: ctx, payload
func (_m *MockCoverTaskPublisher) PublishCoverTask(ctx context.Context, payload messaging.CoverGenerationTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockCoverTaskPublisher creates a new instance of MockCoverTaskPublisher. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockCoverTaskPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCoverTaskPublisher {
	m := &MockCoverTaskPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
