package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/BaSui01/agentloop/agent"
)

// MockHandler is a testify mock of agent.Handler. Name is fixed at
// construction so registration does not need an expectation.
type MockHandler struct {
	mock.Mock
	name string
}

var _ agent.Handler = (*MockHandler)(nil)

// NewMockHandler 创建名为 name 的 MockHandler
func NewMockHandler(name string) *MockHandler {
	return &MockHandler{name: name}
}

func (m *MockHandler) Name() string { return m.name }

func (m *MockHandler) Execute(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*agent.ExecutionResult)
	return res, args.Error(1)
}

// MockAcceptor is a MockHandler that also vets hand-offs.
type MockAcceptor struct {
	MockHandler
}

var _ agent.Acceptor = (*MockAcceptor)(nil)

// NewMockAcceptor 创建名为 name 的 MockAcceptor
func NewMockAcceptor(name string) *MockAcceptor {
	return &MockAcceptor{MockHandler: MockHandler{name: name}}
}

func (m *MockAcceptor) AcceptHandoff(ctx context.Context, req *agent.HandoffRequest) error {
	return m.Called(ctx, req).Error(0)
}
