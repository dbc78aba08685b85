package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/coriolis-automation/opcua-server/internal/admin"
)

type mockReloader struct {
	mock.Mock
}

func (m *mockReloader) ConfigReload(ctx context.Context) (*admin.Response, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*admin.Response)
	return resp, args.Error(1)
}

func TestRunReload_Success(t *testing.T) {
	client := new(mockReloader)
	client.On("ConfigReload", mock.Anything).Return(&admin.Response{Result: map[string]interface{}{"status": "reloaded"}}, nil)

	var buf bytes.Buffer
	err := runReload(context.Background(), client, &buf)

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "Configuration reloaded successfully")
	client.AssertExpectations(t)
}

func TestRunReload_TransportFailure(t *testing.T) {
	client := new(mockReloader)
	client.On("ConfigReload", mock.Anything).Return(nil, errors.New("connection failed"))

	var buf bytes.Buffer
	err := runReload(context.Background(), client, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection failed")
	assert.Empty(t, buf.String())
	client.AssertExpectations(t)
}

func TestRunReload_ServerError(t *testing.T) {
	client := new(mockReloader)
	client.On("ConfigReload", mock.Anything).Return(&admin.Response{
		Error: &admin.ErrorInfo{Code: admin.ErrCodeInternalError, Message: "reload failed: bad config"},
	}, nil)

	var buf bytes.Buffer
	err := runReload(context.Background(), client, &buf)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
	assert.Empty(t, buf.String())
	client.AssertExpectations(t)
}
