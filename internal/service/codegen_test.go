package service_test

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BhavanK18/Whiteboard/internal/repository/mocks"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

// constReader yields the same byte forever.
type constReader byte

func (r constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

var codePattern = regexp.MustCompile(`^[0-9A-Z]{8}$`)

func TestCodeGenerator_NewCode_Format(t *testing.T) {
	mockRepo := new(mocks.SessionRepository)
	mockRepo.On("IsCodeExists", mock.Anything, mock.Anything).Return(false, nil)
	gen := service.NewCodeGenerator(mockRepo, nil)

	for i := 0; i < 20; i++ {
		code, err := gen.NewCode(context.Background())
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
	}
}

func TestCodeGenerator_NewCode_RetriesOnCollision(t *testing.T) {
	mockRepo := new(mocks.SessionRepository)
	src := bytes.NewReader(append(bytes.Repeat([]byte{0}, 8), bytes.Repeat([]byte{11}, 8)...))
	gen := service.NewCodeGenerator(mockRepo, src)

	mockRepo.On("IsCodeExists", mock.Anything, "00000000").Return(true, nil).Once()
	mockRepo.On("IsCodeExists", mock.Anything, "BBBBBBBB").Return(false, nil).Once()

	code, err := gen.NewCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBB", code)
	mockRepo.AssertExpectations(t)
}

func TestCodeGenerator_NewCode_GivesUpAfterBoundedAttempts(t *testing.T) {
	mockRepo := new(mocks.SessionRepository)
	gen := service.NewCodeGenerator(mockRepo, constReader(35))
	mockRepo.On("IsCodeExists", mock.Anything, "ZZZZZZZZ").Return(true, nil)

	_, err := gen.NewCode(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrConflict))
	mockRepo.AssertNumberOfCalls(t, "IsCodeExists", 10)
}

func TestCodeGenerator_NewCode_StoreError(t *testing.T) {
	mockRepo := new(mocks.SessionRepository)
	gen := service.NewCodeGenerator(mockRepo, constReader(1))
	mockRepo.On("IsCodeExists", mock.Anything, "11111111").Return(false, errors.New("connection refused")).Once()

	_, err := gen.NewCode(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, service.ErrConflict))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeGenerator_GuestName(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		want string
	}{
		{name: "lowest", src: []byte{0x00, 0x00}, want: "Guest1000"},
		{name: "wraps", src: []byte{0xFF, 0xFF}, want: "Guest3535"},
		{name: "upper bound", src: []byte{0x23, 0x27}, want: "Guest9999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := service.NewCodeGenerator(new(mocks.SessionRepository), bytes.NewReader(tt.src))
			assert.Equal(t, tt.want, gen.GuestName())
		})
	}
}
