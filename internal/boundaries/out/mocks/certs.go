package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/appayureze-cloud/aiastra/internal/domain"
)

// MockCertificateStore is a mock implementation of out.CertificateStore
type MockCertificateStore struct {
	mock.Mock
}

func (m *MockCertificateStore) Save(ctx context.Context, cert domain.Certificate) error {
	args := m.Called(ctx, cert)
	return args.Error(0)
}

func (m *MockCertificateStore) Load(ctx context.Context, domainName string) (domain.Certificate, error) {
	args := m.Called(ctx, domainName)
	return args.Get(0).(domain.Certificate), args.Error(1)
}

func (m *MockCertificateStore) Delete(ctx context.Context, domainName string) error {
	args := m.Called(ctx, domainName)
	return args.Error(0)
}

// MockCertificateIssuer is a mock implementation of out.CertificateIssuer
type MockCertificateIssuer struct {
	mock.Mock
}

func (m *MockCertificateIssuer) Obtain(ctx context.Context, domainName string) (domain.Certificate, error) {
	args := m.Called(ctx, domainName)
	return args.Get(0).(domain.Certificate), args.Error(1)
}

func (m *MockCertificateIssuer) Renew(ctx context.Context, cert domain.Certificate) (domain.Certificate, error) {
	args := m.Called(ctx, cert)
	return args.Get(0).(domain.Certificate), args.Error(1)
}
