package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"lchat/internal/models"

	"golang.org/x/crypto/bcrypt"
)

const broadcastConn = "*"

type frame struct {
	conn    string
	event   string
	payload any
}

// recorder 记录所有投递，Broadcast 记为 conn "*"。
type recorder struct {
	mu     sync.Mutex
	frames []frame
}

func (r *recorder) Emit(connID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame{conn: connID, event: event, payload: payload})
}

func (r *recorder) Broadcast(event string, payload any) {
	r.Emit(broadcastConn, event, payload)
}

func (r *recorder) to(connID string) []frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame
	for _, f := range r.frames {
		if f.conn == connID {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

type fakeRepo struct {
	mu      sync.Mutex
	saved   []models.Account
	failing bool
}

func (f *fakeRepo) SaveAccount(_ context.Context, acc models.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, acc)
	return nil
}

func (f *fakeRepo) LoadAccounts(_ context.Context) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Account(nil), f.saved...), nil
}

func newTestStore(repo AccountRepo) *IdentityStore {
	return NewIdentityStore(IdentityOptions{Repo: repo, BcryptCost: bcrypt.MinCost, AvatarBaseURL: "https://avatars.test/svg"})
}

func mustRegister(t *testing.T, s *IdentityStore, connID, username, phone string) AuthResult {
	t.Helper()
	res, err := s.Register(context.Background(), connID, username, phone, "secret")
	if err != nil {
		t.Fatalf("Register(%s) error = %v", username, err)
	}
	return res
}
