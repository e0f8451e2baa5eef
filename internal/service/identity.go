package service

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"lchat/internal/auth"
	"lchat/internal/models"
)

// AccountRepo 是可选的账号持久化后端，nil 表示纯内存运行。
type AccountRepo interface {
	SaveAccount(ctx context.Context, acc models.Account) error
	LoadAccounts(ctx context.Context) ([]models.Account, error)
}

type IdentityOptions struct {
	Repo          AccountRepo
	BcryptCost    int
	AvatarBaseURL string
}

// IdentityStore 持有全部用户记录，并维护 username->记录 与 connID->username 两个索引。
// 两个索引只在同一把锁内修改，断线处理因此是 O(1) 的反查。
// 正在写入持久化后端的注册占用 pending 中的用户名和手机号，写入期间不持有锁。
type IdentityStore struct {
	mu     sync.RWMutex
	users  map[string]*models.UserRecord
	phones map[string]string
	conns  map[string]string

	pendingNames  map[string]struct{}
	pendingPhones map[string]struct{}

	repo       AccountRepo
	cost       int
	avatarBase string
	now        func() time.Time
}

func NewIdentityStore(opts IdentityOptions) *IdentityStore {
	return &IdentityStore{
		users:      make(map[string]*models.UserRecord),
		phones:     make(map[string]string),
		conns:      make(map[string]string),
		repo:       opts.Repo,
		cost:       opts.BcryptCost,
		avatarBase: opts.AvatarBaseURL,
		now:        time.Now,

		pendingNames:  make(map[string]struct{}),
		pendingPhones: make(map[string]struct{}),
	}
}

// AuthResult 是一次成功认证的结果。Released 非空表示该连接之前绑定的另一个身份已被下线。
type AuthResult struct {
	User     models.UserRecord
	Released *models.UserRecord
}

// Restore 从持久化后端加载已注册账号，所有账号初始为离线。
func (s *IdentityStore) Restore(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}
	accs, err := s.repo.LoadAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range accs {
		if _, ok := s.users[a.Username]; ok {
			continue
		}
		s.users[a.Username] = &models.UserRecord{
			Username: a.Username,
			Phone:    a.Phone,
			Password: a.PasswordHash,
			Avatar:   s.avatarFor(a.Username),
		}
		s.phones[a.Phone] = a.Username
	}
	return len(accs), nil
}

// Register 创建新用户并绑定到当前连接。先检查用户名，再检查手机号；任何失败都不修改存储。
func (s *IdentityStore) Register(ctx context.Context, connID, username, phone, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	phone = strings.TrimSpace(phone)
	if err := validateRegistration(username, phone, password); err != nil {
		return AuthResult{}, err
	}

	// 哈希和持久化都较慢，放在锁外；提交前重新检查唯一性。
	s.mu.RLock()
	err := s.checkUniqueLocked(username, phone)
	s.mu.RUnlock()
	if err != nil {
		return AuthResult{}, err
	}
	hash, err := auth.HashPassword(password, s.cost)
	if err != nil {
		return AuthResult{}, fmt.Errorf("hash password: %w", err)
	}

	if s.repo != nil {
		if err := s.reserve(username, phone); err != nil {
			return AuthResult{}, err
		}
		acc := models.Account{Username: username, Phone: phone, PasswordHash: hash}
		err := s.repo.SaveAccount(ctx, acc)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.releaseLocked(username, phone)
		if err != nil {
			return AuthResult{}, fmt.Errorf("save account: %w", err)
		}
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.checkUniqueLocked(username, phone); err != nil {
			return AuthResult{}, err
		}
	}
	rec := &models.UserRecord{
		Username: username,
		Phone:    phone,
		Password: hash,
		Avatar:   s.avatarFor(username),
	}
	s.users[username] = rec
	s.phones[phone] = username
	released := s.bindLocked(connID, rec)
	return AuthResult{User: copyRecord(rec), Released: released}, nil
}

// reserve 占用用户名和手机号，直到 releaseLocked。占用期间同名注册直接失败。
func (s *IdentityStore) reserve(username, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUniqueLocked(username, phone); err != nil {
		return err
	}
	s.pendingNames[username] = struct{}{}
	s.pendingPhones[phone] = struct{}{}
	return nil
}

func (s *IdentityStore) releaseLocked(username, phone string) {
	delete(s.pendingNames, username)
	delete(s.pendingPhones, phone)
}

// Login 校验凭据并把用户重新绑定到新连接，旧连接不再收到定向投递。
func (s *IdentityStore) Login(connID, username, password string) (AuthResult, error) {
	username = strings.TrimSpace(username)
	s.mu.RLock()
	rec, ok := s.users[username]
	var hash string
	if ok {
		hash = rec.Password
	}
	s.mu.RUnlock()
	if !ok || !auth.VerifyPassword(hash, password) {
		return AuthResult{}, ErrInvalidCredentials
	}
	return s.bind(connID, username)
}

// Resume 用已经验证过的会话 token 中的用户名绑定连接。
func (s *IdentityStore) Resume(connID, username string) (AuthResult, error) {
	res, err := s.bind(connID, username)
	if err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	return res, nil
}

func (s *IdentityStore) bind(connID, username string) (AuthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[username]
	if !ok {
		return AuthResult{}, ErrNotFound
	}
	released := s.bindLocked(connID, rec)
	return AuthResult{User: copyRecord(rec), Released: released}, nil
}

// bindLocked 执行 last-writer-wins 的重新绑定。
func (s *IdentityStore) bindLocked(connID string, rec *models.UserRecord) *models.UserRecord {
	var released *models.UserRecord
	if prev, ok := s.conns[connID]; ok && prev != rec.Username {
		if other := s.users[prev]; other != nil {
			s.markOfflineLocked(other)
			cp := copyRecord(other)
			released = &cp
		}
	}
	if rec.ConnID != "" && rec.ConnID != connID {
		delete(s.conns, rec.ConnID)
	}
	rec.Online = true
	rec.ConnID = connID
	s.conns[connID] = rec.Username
	return released
}

// Disconnect 按连接反查用户并将其置为离线，同时记录 lastSeen。未认证或已被顶替的连接返回 false。
func (s *IdentityStore) Disconnect(connID string) (models.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.conns[connID]
	if !ok {
		return models.UserRecord{}, false
	}
	rec := s.users[username]
	if rec == nil {
		delete(s.conns, connID)
		return models.UserRecord{}, false
	}
	s.markOfflineLocked(rec)
	return copyRecord(rec), true
}

func (s *IdentityStore) markOfflineLocked(rec *models.UserRecord) {
	delete(s.conns, rec.ConnID)
	t := s.now().UTC()
	rec.Online = false
	rec.ConnID = ""
	rec.LastSeen = &t
}

// ListAll 返回按用户名排序的公开用户列表，excluding 为空时包含全部用户。
func (s *IdentityStore) ListAll(excluding string) []models.UserView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.UserView, 0, len(s.users))
	for name, rec := range s.users {
		if name == excluding {
			continue
		}
		out = append(out, copyRecord(rec).View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Find 按用户名或手机号查找用户。
func (s *IdentityStore) Find(identifier string) (models.UserView, error) {
	identifier = strings.TrimSpace(identifier)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[identifier]
	if !ok {
		if name, byPhone := s.phones[identifier]; byPhone {
			rec, ok = s.users[name]
		}
	}
	if !ok {
		return models.UserView{}, ErrNotFound
	}
	return copyRecord(rec).View(), nil
}

// Lookup 返回用户记录的快照。
func (s *IdentityStore) Lookup(username string) (models.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok {
		return models.UserRecord{}, false
	}
	return copyRecord(rec), true
}

// ConnOf 返回用户当前的活动连接，离线时返回 false。
func (s *IdentityStore) ConnOf(username string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[username]
	if !ok || !rec.Online || rec.ConnID == "" {
		return "", false
	}
	return rec.ConnID, true
}

// UsernameFor 反查连接所属的用户名。
func (s *IdentityStore) UsernameFor(connID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.conns[connID]
	return name, ok
}

func (s *IdentityStore) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *IdentityStore) checkUniqueLocked(username, phone string) error {
	if _, ok := s.users[username]; ok {
		return ErrDuplicateUsername
	}
	if _, ok := s.pendingNames[username]; ok {
		return ErrDuplicateUsername
	}
	if _, ok := s.phones[phone]; ok {
		return ErrDuplicatePhone
	}
	if _, ok := s.pendingPhones[phone]; ok {
		return ErrDuplicatePhone
	}
	return nil
}

func (s *IdentityStore) avatarFor(username string) string {
	return s.avatarBase + "?seed=" + url.QueryEscape(username)
}

func validateRegistration(username, phone, password string) error {
	if username == "" || phone == "" || password == "" {
		return fmt.Errorf("%w: username, phone and password are required", ErrValidation)
	}
	if len(username) < 2 || len(username) > 64 {
		return fmt.Errorf("%w: invalid username", ErrValidation)
	}
	if len(phone) > 32 {
		return fmt.Errorf("%w: invalid phone number", ErrValidation)
	}
	if len(password) > 72 {
		return fmt.Errorf("%w: invalid password", ErrValidation)
	}
	return nil
}

func copyRecord(rec *models.UserRecord) models.UserRecord {
	cp := *rec
	if rec.LastSeen != nil {
		t := *rec.LastSeen
		cp.LastSeen = &t
	}
	return cp
}
