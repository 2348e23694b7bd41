package registry

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/order-parser/internal/model"
)

// mockModelSource implements ModelSource for testing.
type mockModelSource struct {
	mock.Mock
}

func (m *mockModelSource) ListModels(ctx context.Context) ([]model.ParserModel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ParserModel), args.Error(1)
}

func (m *mockModelSource) GetModel(ctx context.Context, name string) (*model.ParserModel, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ParserModel), args.Error(1)
}
