package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

const (
	codeAlphabet       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	SessionCodeLength  = 8
	maxCodeAttempts    = 10
	guestNumberMinimum = 1000
	guestNumberSpan    = 9000
)

// CodeChecker 检查会话码是否已被占用。
type CodeChecker interface {
	IsCodeExists(ctx context.Context, code string) (bool, error)
}

// CodeGenerator 从随机源生成唯一的会话码和访客名。
type CodeGenerator struct {
	checker CodeChecker
	src     io.Reader
}

// NewCodeGenerator 创建 CodeGenerator。src 为 nil 时使用 crypto/rand。
func NewCodeGenerator(checker CodeChecker, src io.Reader) *CodeGenerator {
	if checker == nil {
		panic("CodeChecker cannot be nil for CodeGenerator")
	}
	if src == nil {
		src = rand.Reader
	}
	return &CodeGenerator{checker: checker, src: src}
}

// NewCode 生成一个未被任何会话使用的会话码。
// 连续冲突 maxCodeAttempts 次后返回 ErrConflict。
func (g *CodeGenerator) NewCode(ctx context.Context) (string, error) {
	b := make([]byte, SessionCodeLength)
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		if _, err := io.ReadFull(g.src, b); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for i := range b {
			b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
		}
		code := string(b)

		exists, err := g.checker.IsCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check session code uniqueness: %w", err)
		}
		if !exists {
			logrus.WithField("session_code", code).Debugf("Generated unique session code after %d attempt(s)", attempt)
			return code, nil
		}
		logrus.WithField("session_code", code).Warnf("Generated session code already exists, retrying (attempt %d)", attempt)
	}
	return "", newError(ErrConflict, fmt.Sprintf("could not allocate a unique session code after %d attempts", maxCodeAttempts))
}

// GuestName returns a display name like "Guest4821". Names are not checked for
// collisions with other guests.
func (g *CodeGenerator) GuestName() string {
	var b [2]byte
	if _, err := io.ReadFull(g.src, b[:]); err != nil {
		logrus.WithError(err).Warn("Failed to read random bytes for guest name")
	}
	n := int(binary.BigEndian.Uint16(b[:]))%guestNumberSpan + guestNumberMinimum
	return fmt.Sprintf("Guest%d", n)
}
