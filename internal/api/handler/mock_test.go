package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/deviceca/internal/ca"
)

type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Sign(ctx context.Context, req ca.SignRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
