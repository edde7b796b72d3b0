package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/storage"
)

// Roles.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Objects and actions checked by RequirePermission.
const (
	ObjReceipts = "receipts"
	ObjTariffs  = "tariffs"
	ObjRuns     = "runs"
	ObjTokens   = "tokens"

	ActRead  = "read"
	ActWrite = "write"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnknownRole  = errors.New("unknown role")
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

// Config controls API token authentication.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// AdminToken, when set, is registered as an admin token at startup.
	AdminToken string `mapstructure:"admin_token"`
}

// TokenStore is the persistence the service needs.
type TokenStore interface {
	CreateToken(ctx context.Context, t storage.Token) error
	GetTokenByHash(ctx context.Context, hash string) (*storage.Token, error)
	UpdateTokenLastUsed(ctx context.Context, id string) error
}

type Service struct {
	cfg      Config
	store    TokenStore
	enforcer *casbin.Enforcer
	log      *zap.Logger
	now      func() time.Time
}

func NewService(cfg Config, store TokenStore, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	policies := [][]string{
		{RoleAdmin, "*", "*"},
		{RoleViewer, ObjReceipts, ActRead},
		{RoleViewer, ObjTariffs, ActRead},
		{RoleViewer, ObjRuns, ActRead},
		{RoleOperator, ObjReceipts, ActWrite},
		{RoleOperator, ObjTariffs, ActWrite},
		{RoleOperator, ObjRuns, ActWrite},
	}
	if _, err := e.AddPolicies(policies); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	// operators can do everything viewers can
	if _, err := e.AddGroupingPolicy(RoleOperator, RoleViewer); err != nil {
		return nil, fmt.Errorf("add grouping policy: %w", err)
	}

	return &Service{cfg: cfg, store: store, enforcer: e, log: log.Named("auth"), now: time.Now}, nil
}

// Enabled reports whether requests must carry a token.
func (s *Service) Enabled() bool { return s.cfg.Enabled }

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleViewer, RoleOperator, RoleAdmin:
		return true
	}
	return false
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Bootstrap registers the configured admin token if it is not stored yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.AdminToken == "" {
		return nil
	}
	hash := hashToken(s.cfg.AdminToken)
	_, err := s.store.GetTokenByHash(ctx, hash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	t := storage.Token{
		ID:        uuid.New().String(),
		Name:      "bootstrap-admin",
		TokenHash: hash,
		Role:      RoleAdmin,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return fmt.Errorf("create bootstrap token: %w", err)
	}
	s.log.Info("registered bootstrap admin token", zap.String("id", t.ID))
	return nil
}

// CreateToken issues a new token. The raw secret is returned once and only
// its hash is stored.
func (s *Service) CreateToken(ctx context.Context, name, role string, expiresAt *time.Time) (*storage.Token, string, error) {
	if !ValidRole(role) {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	raw := uuid.New().String() + uuid.New().String()

	t := storage.Token{
		ID:        uuid.New().String(),
		Name:      name,
		TokenHash: hashToken(raw),
		Role:      role,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return nil, "", err
	}
	return &t, raw, nil
}

// ValidateToken resolves a raw token to its stored record.
func (s *Service) ValidateToken(ctx context.Context, raw string) (*storage.Token, error) {
	t, err := s.store.GetTokenByHash(ctx, hashToken(raw))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}
	if err := s.store.UpdateTokenLastUsed(ctx, t.ID); err != nil {
		s.log.Warn("update token last used", zap.String("id", t.ID), zap.Error(err))
	}
	return t, nil
}

// Enforce reports whether role may perform act on obj.
func (s *Service) Enforce(role, obj, act string) (bool, error) {
	return s.enforcer.Enforce(role, obj, act)
}
