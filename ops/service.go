package ops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("ops: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("ops: password must be at least 8 characters")
	// ErrForbidden signals the operator's role does not allow the action.
	ErrForbidden = errors.New("ops: admin role required")
)

// SessionResetter is the slice of the session store the retry operation
// needs: putting an errored session back into a processable state.
type SessionResetter interface {
	ResetForRetry(ctx context.Context, id string) error
}

// Service handles operator accounts and the errored-session retry console.
type Service struct {
	repo      Repository
	sessions  SessionResetter
	jwtSecret []byte
}

// LoginResult bundles the token and operator returned after a successful login.
type LoginResult struct {
	Token    string
	Operator Operator
}

// RetryOutcome reports the per-session result of a bulk retry.
type RetryOutcome struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

func NewService(repo Repository, sessions SessionResetter, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		sessions:  sessions,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new operator account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Operator, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("ops: email and full_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("ops: hash password: %w", err)
	}

	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleViewer
	}
	if !isValidRole(role) {
		return nil, fmt.Errorf("ops: invalid role %q", role)
	}

	op, err := s.repo.CreateOperator(ctx, CreateOperatorParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Role:         role,
	})
	if err != nil {
		return nil, err
	}

	return &op, nil
}

// EnsureAdmin creates the initial admin account so a fresh deployment has a
// way into the console. An already-registered email is not an error.
func (s *Service) EnsureAdmin(ctx context.Context, email, fullName, password string) error {
	_, err := s.Register(ctx, RegisterRequest{
		Email:    email,
		FullName: fullName,
		Password: password,
		Role:     RoleAdmin,
	})
	if errors.Is(err, ErrDuplicateEmail) {
		return nil
	}
	return err
}

// Login authenticates an operator and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	op, err := s.repo.GetOperatorByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(op.ID, op.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("ops: generate token: %w", err)
	}

	return LoginResult{Token: token, Operator: op}, nil
}

// VerifyToken validates a JWT token and returns the operator id and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("ops: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		operatorID, ok := claims["operator_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("ops: invalid operator_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("ops: invalid role in token")
		}
		role := Role(roleStr)
		if !isValidRole(role) {
			return "", "", fmt.Errorf("ops: invalid role %q in token", roleStr)
		}
		return operatorID, role, nil
	}

	return "", "", fmt.Errorf("ops: invalid token")
}

// Retry resets one errored session so processing can run again. Admin only.
func (s *Service) Retry(ctx context.Context, role Role, sessionID string) error {
	if role != RoleAdmin {
		return ErrForbidden
	}
	return s.sessions.ResetForRetry(ctx, sessionID)
}

// RetryMany resets a batch of errored sessions, collecting per-session
// results instead of stopping at the first failure.
func (s *Service) RetryMany(ctx context.Context, role Role, sessionIDs []string) ([]RetryOutcome, error) {
	if role != RoleAdmin {
		return nil, ErrForbidden
	}

	outcomes := make([]RetryOutcome, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		outcome := RetryOutcome{SessionID: id}
		if err := s.sessions.ResetForRetry(ctx, id); err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Service) generateToken(operatorID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"operator_id": operatorID,
		"role":        role,
		"exp":         time.Now().Add(8 * time.Hour).Unix(),
		"iat":         time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}
