package parser

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/order-parser/internal/llm"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, req llm.Request) (*llm.Extraction, error) {
	args := m.Called(ctx, req)
	if v := args.Get(0); v != nil {
		return v.(*llm.Extraction), args.Error(1)
	}
	return nil, args.Error(1)
}
