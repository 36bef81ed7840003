package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storybook-server/image-worker/internal/service"
	"storybook-server/shared/messaging"
)

// MockAssetGenerator is a mock type for the AssetGenerating type
type MockAssetGenerator struct {
	mock.Mock
}

// GenerateCover provides a mock function with given fields: ctx, task
func (_m *MockAssetGenerator) GenerateCover(ctx context.Context, task messaging.CoverGenerationTaskPayload) (*service.GeneratedAsset, error) {
	ret := _m.Called(ctx, task)

	var r0 *service.GeneratedAsset
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.GeneratedAsset)
	}
	return r0, ret.Error(1)
}

// GeneratePage provides a mock function with given fields: ctx, task
func (_m *MockAssetGenerator) GeneratePage(ctx context.Context, task messaging.PageGenerationTaskPayload) (*service.GeneratedAsset, error) {
	ret := _m.Called(ctx, task)

	var r0 *service.GeneratedAsset
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.GeneratedAsset)
	}
	return r0, ret.Error(1)
}

// NewMockAssetGenerator creates a new instance of MockAssetGenerator. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockAssetGenerator(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockAssetGenerator {
	m := &MockAssetGenerator{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
