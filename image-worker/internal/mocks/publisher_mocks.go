package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// MockPageTaskPublisher is a mock type for the PageTaskPublisher type
type MockPageTaskPublisher struct {
	mock.Mock
}

// PublishPageTask provides a mock function with given fields: ctx, payload
func (_m *MockPageTaskPublisher) PublishPageTask(ctx context.Context, payload messaging.PageGenerationTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockPageTaskPublisher creates a new instance of MockPageTaskPublisher.
func NewMockPageTaskPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPageTaskPublisher {
	m := &MockPageTaskPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockClientUpdatePublisher is a mock type for the ClientUpdatePublisher type
type MockClientUpdatePublisher struct {
	mock.Mock
}

// PublishClientUpdate provides a mock function with given fields: ctx, payload
func (_m *MockClientUpdatePublisher) PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockClientUpdatePublisher creates a new instance of MockClientUpdatePublisher.
func NewMockClientUpdatePublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClientUpdatePublisher {
	m := &MockClientUpdatePublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// MockPushNotificationPublisher is a mock type for the PushNotificationPublisher type
type MockPushNotificationPublisher struct {
	mock.Mock
}

// PublishPushNotification provides a mock function with given fields: ctx, payload
func (_m *MockPushNotificationPublisher) PublishPushNotification(ctx context.Context, payload models.PushNotificationPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockPushNotificationPublisher creates a new instance of MockPushNotificationPublisher.
func NewMockPushNotificationPublisher(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockPushNotificationPublisher {
	m := &MockPushNotificationPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
