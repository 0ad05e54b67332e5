package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cardbook/internal/model"
	"github.com/mmeshcher/cardbook/internal/repository"
	"github.com/mmeshcher/cardbook/internal/validation"
)

const (
	mnemonicWords       = 12
	maxUsernameAttempts = 5
)

var (
	usernameAdjectives = []string{"swift", "clever", "bright", "quick", "smart", "wise", "keen", "bold", "calm", "cool"}
	usernameNouns      = []string{"card", "user", "saver", "wise", "pro", "expert", "guru", "master", "ninja", "hero"}

	mnemonicWordlist = []string{
		"abandon", "ability", "able", "about", "above", "absent", "absorb", "abstract",
		"absurd", "abuse", "access", "accident", "account", "accuse", "achieve", "acid",
		"acoustic", "acquire", "across", "act", "action", "actor", "actress", "actual",
		"adapt", "add", "addict", "address", "adjust", "admit", "adult", "advance",
		"advice", "aerobic", "affair", "afford", "afraid", "again", "age", "agent",
		"agree", "ahead", "aim", "air", "airport", "aisle", "alarm", "album",
		"alcohol", "alert", "alien", "all", "alley", "allow", "almost", "alone",
		"alpha", "already", "also", "alter", "always", "amateur", "amazing", "among",
	}
)

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}

func generateUsername() (string, error) {
	a, err := randomIndex(len(usernameAdjectives))
	if err != nil {
		return "", err
	}
	n, err := randomIndex(len(usernameNouns))
	if err != nil {
		return "", err
	}
	num, err := randomIndex(900)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d", usernameAdjectives[a], usernameNouns[n], 100+num), nil
}

func generateMnemonic() (string, error) {
	words := make([]string, mnemonicWords)
	for i := range words {
		idx, err := randomIndex(len(mnemonicWordlist))
		if err != nil {
			return "", err
		}
		words[i] = mnemonicWordlist[idx]
	}
	return strings.Join(words, " "), nil
}

func hashMnemonic(username, mnemonic string) string {
	sum := sha256.Sum256([]byte(username + ":" + mnemonic))
	return hex.EncodeToString(sum[:])
}

// CreateLocalUser создаёт локального пользователя со сгенерированным именем.
// Мнемоника возвращается один раз и нигде не хранится, сохраняется только её хеш.
func (s *Service) CreateLocalUser(ctx context.Context) (*model.User, string, error) {
	mnemonic, err := generateMnemonic()
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.engine.Now()
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username, err := generateUsername()
		if err != nil {
			return nil, "", err
		}

		u := model.User{
			ID:           uuid.New(),
			Username:     username,
			PasswordHash: hashMnemonic(username, mnemonic),
			CreatedAt:    now,
			LastLoginAt:  now,
		}
		if err := validation.User(u); err != nil {
			return nil, "", err
		}

		err = s.store.CreateUser(ctx, u)
		if errors.Is(err, repository.ErrUserExists) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		s.logger.Info("local user created", zap.String("username", username))
		return &u, mnemonic, nil
	}
	return nil, "", repository.ErrUserExists
}

// Authenticate проверяет имя пользователя и мнемонику и обновляет время входа.
func (s *Service) Authenticate(ctx context.Context, username, mnemonic string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	hash := hashMnemonic(username, strings.Join(strings.Fields(mnemonic), " "))
	if subtle.ConstantTimeCompare([]byte(hash), []byte(u.PasswordHash)) != 1 {
		return nil, ErrInvalidCredentials
	}

	u.LastLoginAt = s.engine.Now()
	if err := s.store.UpdateUser(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.GetUser(ctx, id)
}

// SetCloudSync включает или выключает облачную синхронизацию пользователя.
func (s *Service) SetCloudSync(ctx context.Context, id uuid.UUID, enabled bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.IsCloudSyncEnabled = enabled
	if err := s.store.UpdateUser(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// SyncNow запускает облачную синхронизацию. Транспорт синхронизации отсутствует.
func (s *Service) SyncNow(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return ErrSyncNotImplemented
}
