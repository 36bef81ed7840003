package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTextModelClient is a mock type for the TextModelClient type
type MockTextModelClient struct {
	mock.Mock
}

// GenerateText provides a mock function with given fields: ctx, model, systemPrompt, userPrompt
func (_m *MockTextModelClient) GenerateText(ctx context.Context, model string, systemPrompt string, userPrompt string) (string, error) {
	ret := _m.Called(ctx, model, systemPrompt, userPrompt)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) string); ok {
		r0 = rf(ctx, model, systemPrompt, userPrompt)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	return r0, ret.Error(1)
}

// NewMockTextModelClient creates a new instance of MockTextModelClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockTextModelClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockTextModelClient {
	m := &MockTextModelClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
