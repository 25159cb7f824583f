package shop

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/checkout"
)

const (
	defaultTTL           = 45 * time.Minute
	defaultSweepInterval = 5 * time.Minute
)

var (
	// ErrSessionNotFound is returned when no live session matches the token.
	ErrSessionNotFound = errors.New("shop: session not found")
	// ErrSessionToken is returned for tokens that fail to parse or verify.
	ErrSessionToken = errors.New("shop: invalid session token")
	// ErrSessionBusy is returned when a close races an in-flight submission.
	ErrSessionBusy = errors.New("shop: session has a submission in progress")
)

// FlowFactory builds the submission flow for a new session's cart and form.
// onSettled must be handed to the flow so a settled payment steps the session
// back to the catalog.
type FlowFactory func(c *cart.Store, f *checkout.Form, onSettled func()) (*checkout.Flow, error)

// StoreDeps configures a session store. Secret and NewFlow are required.
type StoreDeps struct {
	Secret        []byte
	NewFlow       FlowFactory
	TTL           time.Duration
	SweepInterval time.Duration
	HighlightTTL  time.Duration
	Clock         func() time.Time
	Log           func(ctx context.Context, event string, fields map[string]any)
}

// Store keeps live sessions in memory and mints the signed tokens that
// reference them. Sessions disappear on restart; nothing is persisted.
type Store struct {
	deps StoreDeps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore validates deps and constructs an empty store.
func NewStore(deps StoreDeps) (*Store, error) {
	if len(deps.Secret) == 0 {
		return nil, errors.New("shop: session secret is required")
	}
	if deps.NewFlow == nil {
		return nil, errors.New("shop: flow factory is required")
	}
	if deps.TTL <= 0 {
		deps.TTL = defaultTTL
	}
	if deps.SweepInterval <= 0 {
		deps.SweepInterval = defaultSweepInterval
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log == nil {
		deps.Log = func(context.Context, string, map[string]any) {}
	}
	return &Store{
		deps:     deps,
		sessions: make(map[string]*Session),
	}, nil
}

// Create opens a new session on the catalog step and returns it with its
// signed token.
func (s *Store) Create(ctx context.Context) (*Session, string, error) {
	now := s.deps.Clock()
	id := "ses_" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	cartStore := cart.NewStore(cart.StoreDeps{
		Clock:        s.deps.Clock,
		HighlightTTL: s.deps.HighlightTTL,
	})
	form := checkout.NewForm()

	session := &Session{
		ID:        id,
		Cart:      cartStore,
		Form:      form,
		step:      StepCatalog,
		createdAt: now,
		lastSeen:  now,
	}
	flow, err := s.deps.NewFlow(cartStore, form, func() {
		// Advance to the catalog never fails.
		_ = session.Advance(StepCatalog)
	})
	if err != nil {
		return nil, "", err
	}
	session.Flow = flow

	token, err := s.signToken(id, now)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.deps.Log(ctx, "shop.session_created", map[string]any{"session_id": id})
	return session, token, nil
}

// Resolve verifies the token, looks up its session and marks it active.
func (s *Store) Resolve(token string) (*Session, error) {
	id, err := s.parseToken(token)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	session.Touch(s.deps.Clock())
	return session, nil
}

// Close removes the session. A session with a submission in flight refuses to
// close so the payment outcome is not lost.
func (s *Store) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if session.Busy() {
		return ErrSessionBusy
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.deps.Log(ctx, "shop.session_closed", map[string]any{"session_id": id})
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle past the TTL, skipping busy ones. It returns the
// number removed.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.deps.Clock()
	cutoff := now.Add(-s.deps.TTL)

	s.mu.Lock()
	var expired []*Session
	for _, session := range s.sessions {
		if session.IdleSince().Before(cutoff) && !session.Busy() {
			expired = append(expired, session)
		}
	}
	for _, session := range expired {
		delete(s.sessions, session.ID)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.deps.Log(ctx, "shop.sessions_swept", map[string]any{"count": len(expired)})
	}
	return len(expired)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.deps.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

func (s *Store) signToken(id string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.deps.TTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.deps.Secret)
	if err != nil {
		return "", fmt.Errorf("shop: sign session token: %w", err)
	}
	return signed, nil
}

func (s *Store) parseToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.deps.Secret, nil
	}, jwt.WithTimeFunc(s.deps.Clock), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid || claims.ID == "" {
		return "", ErrSessionToken
	}
	return claims.ID, nil
}
