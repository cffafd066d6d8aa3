package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialkey-service/internal/eligibility"
	"github.com/trialkey-service/internal/metrics"
	"github.com/trialkey-service/internal/model"
	"github.com/trialkey-service/internal/store"
)

// maxGenerateAttempts bounds retries on the (negligible) chance of drawing a
// key that already exists.
const maxGenerateAttempts = 3

// KeyGenerator produces new key strings.
type KeyGenerator interface {
	Generate() (string, error)
}

// KeyService runs the key lifecycle: issue, validate, list.
type KeyService struct {
	store     *store.Store
	guard     *eligibility.Guard
	generator KeyGenerator
	validity  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option customises a KeyService.
type Option func(*KeyService)

// WithClock replaces time.Now, mainly for tests that advance virtual time.
func WithClock(now func() time.Time) Option {
	return func(s *KeyService) { s.now = now }
}

// NewKeyService creates a new key lifecycle service.
func NewKeyService(st *store.Store, guard *eligibility.Guard, gen KeyGenerator, validity time.Duration, m *metrics.Metrics, opts ...Option) *KeyService {
	if validity <= 0 {
		validity = model.DefaultValidity
	}
	s := &KeyService{
		store:     st,
		guard:     guard,
		generator: gen,
		validity:  validity,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueResult contains the output of a successful issuance.
type IssueResult struct {
	Key         string
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// IssueKey checks the task claim, then atomically checks identity freshness
// and inserts a new key.
func (s *KeyService) IssueKey(ctx context.Context, claim model.TaskClaim, id model.Identity) (*IssueResult, error) {
	if claim.Tasks == nil {
		return nil, NewBadRequest(CodeInvalidRequest, "tasksData is required")
	}
	if id.Fingerprint == "" {
		return nil, NewBadRequest(CodeInvalidRequest, "userFingerprint is required")
	}

	now := s.now()
	if !s.guard.CheckTaskCompletion(claim, now) {
		s.metrics.IssueRejected(CodeTasksNotCompleted)
		return nil, NewBadRequest(CodeTasksNotCompleted, "Tasks not completed or verification expired")
	}

	var (
		issued   string
		conflict *eligibility.Conflict
	)
	err := s.store.Update(ctx, func(db *model.KeyDatabase) (bool, error) {
		if conflict = s.guard.CheckIdentityFreshness(db, id, now); conflict != nil {
			return false, nil
		}

		key, err := s.drawUnusedKey(db)
		if err != nil {
			return false, err
		}
		db.Keys[key] = &model.KeyRecord{
			Key:         key,
			GeneratedAt: now,
			IP:          id.IP,
			Fingerprint: id.Fingerprint,
		}
		issued = key
		return true, nil
	})
	if err != nil {
		return nil, s.mapError(err, "issue")
	}

	if conflict != nil {
		s.metrics.IssueRejected(CodeAlreadyIssued)
		log.Info().
			Str("ip", id.IP).
			Str("existing_key", TruncateKey(conflict.ExistingKey)).
			Msg("key already issued to identity")
		return nil, NewTooManyRequests(CodeAlreadyIssued, "A key was already issued to you in the last 24 hours", map[string]any{
			"existingKey": conflict.ExistingKey,
			"expiresAt":   conflict.ExpiresAt.Format(time.RFC3339),
		})
	}

	s.metrics.KeyIssued()
	log.Info().Str("key", TruncateKey(issued)).Str("ip", id.IP).Msg("key issued")

	return &IssueResult{
		Key:         issued,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.validity),
	}, nil
}

func (s *KeyService) drawUnusedKey(db *model.KeyDatabase) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		key, err := s.generator.Generate()
		if err != nil {
			log.Error().Err(err).Msg("failed to generate key")
			return "", NewInternal(CodeInternal, "Failed to generate key")
		}
		if _, taken := db.Keys[key]; !taken {
			return key, nil
		}
		log.Warn().Int("attempt", i+1).Msg("generated key collided with an existing key")
	}
	return "", NewInternal(CodeInternal, "Failed to generate a unique key")
}

// TimeLeft is the remaining validity split for display.
type TimeLeft struct {
	Hours   int
	Minutes int
}

// SplitRemaining breaks d into whole hours and leftover whole minutes.
func SplitRemaining(d time.Duration) TimeLeft {
	if d < 0 {
		d = 0
	}
	return TimeLeft{
		Hours:   int(d / time.Hour),
		Minutes: int((d % time.Hour) / time.Minute),
	}
}

// ValidationResult contains the output of a successful validation.
type ValidationResult struct {
	Key           string
	UsageCount    int64
	LastUsed      time.Time
	ExpiresAt     time.Time
	TimeRemaining TimeLeft
}

type validationOutcome int

const (
	outcomeUnknown validationOutcome = iota
	outcomeExpired
	outcomeValid
)

// ValidateKey records a use of key. Unknown keys never touch the store;
// expired keys are deleted on sight.
func (s *KeyService) ValidateKey(ctx context.Context, key string, id model.Identity) (*ValidationResult, error) {
	if key == "" {
		return nil, NewBadRequest(CodeInvalidRequest, "key is required")
	}
	if id.Fingerprint == "" {
		return nil, NewBadRequest(CodeInvalidRequest, "userFingerprint is required")
	}

	now := s.now()
	var (
		outcome validationOutcome
		snap    model.KeyRecord
	)
	err := s.store.Update(ctx, func(db *model.KeyDatabase) (bool, error) {
		rec, ok := db.Keys[key]
		if !ok {
			outcome = outcomeUnknown
			return false, nil
		}
		if rec.Expired(now, s.validity) {
			delete(db.Keys, key)
			outcome = outcomeExpired
			return true, nil
		}
		rec.MarkUsed(now)
		snap = *rec
		outcome = outcomeValid
		return true, nil
	})
	if err != nil {
		return nil, s.mapError(err, "validate")
	}

	switch outcome {
	case outcomeUnknown:
		s.metrics.KeyValidated(metrics.ResultUnknown)
		return nil, NewUnauthorized(CodeInvalidKey, "Invalid key")
	case outcomeExpired:
		s.metrics.KeyValidated(metrics.ResultExpired)
		log.Info().Str("key", TruncateKey(key)).Msg("expired key removed on validation")
		return nil, NewUnauthorized(CodeKeyExpired, "Key has expired")
	}

	s.metrics.KeyValidated(metrics.ResultValid)
	if snap.Fingerprint != id.Fingerprint {
		log.Debug().Str("key", TruncateKey(key)).Str("ip", id.IP).Msg("key presented by a different fingerprint")
	}

	expiresAt := snap.ExpiresAt(s.validity)
	return &ValidationResult{
		Key:           snap.Key,
		UsageCount:    snap.UsageCount,
		LastUsed:      now,
		ExpiresAt:     expiresAt,
		TimeRemaining: SplitRemaining(expiresAt.Sub(now)),
	}, nil
}

// KeyListItem is the admin view of one record.
type KeyListItem struct {
	Key         string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	Expired     bool
	Used        bool
	UsageCount  int64
	LastUsed    *time.Time
}

// KeyListing is one page of the admin view.
type KeyListing struct {
	Total   int
	Page    int
	PerPage int
	Keys    []KeyListItem
}

// ListKeys returns records newest first with keys truncated.
func (s *KeyService) ListKeys(ctx context.Context, page, perPage int) (*KeyListing, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}

	now := s.now()
	var items []KeyListItem
	err := s.store.View(ctx, func(db *model.KeyDatabase) error {
		items = make([]KeyListItem, 0, len(db.Keys))
		for _, rec := range db.Keys {
			item := KeyListItem{
				Key:         TruncateKey(rec.Key),
				GeneratedAt: rec.GeneratedAt,
				ExpiresAt:   rec.ExpiresAt(s.validity),
				Expired:     rec.Expired(now, s.validity),
				Used:        rec.Used,
				UsageCount:  rec.UsageCount,
			}
			if rec.LastUsed != nil {
				t := *rec.LastUsed
				item.LastUsed = &t
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err, "list")
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].GeneratedAt.Equal(items[j].GeneratedAt) {
			return items[i].Key < items[j].Key
		}
		return items[i].GeneratedAt.After(items[j].GeneratedAt)
	})

	total := len(items)
	start := total
	if page-1 <= total/perPage {
		start = min((page-1)*perPage, total)
	}
	end := start + perPage
	if end > total {
		end = total
	}

	return &KeyListing{
		Total:   total,
		Page:    page,
		PerPage: perPage,
		Keys:    items[start:end],
	}, nil
}

// Stats summarises the database.
type Stats struct {
	Total   int
	Active  int
	Expired int
}

func (s *KeyService) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	var st Stats
	err := s.store.View(ctx, func(db *model.KeyDatabase) error {
		st.Total = len(db.Keys)
		for _, rec := range db.Keys {
			if rec.Expired(now, s.validity) {
				st.Expired++
			} else {
				st.Active++
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, s.mapError(err, "stats")
	}
	return st, nil
}

// Validity is how long issued keys stay valid.
func (s *KeyService) Validity() time.Duration {
	return s.validity
}

func (s *KeyService) mapError(err error, op string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	if errors.Is(err, store.ErrStoreUnavailable) {
		log.Error().Err(err).Str("op", op).Msg("key store unavailable")
		return errStoreUnavailable()
	}
	log.Error().Err(err).Str("op", op).Msg("unexpected key service error")
	return NewInternal(CodeInternal, "An unexpected error occurred")
}

// TruncateKey shortens a key for logs and the admin listing.
func TruncateKey(key string) string {
	const visible = 12
	if len(key) <= visible {
		return key
	}
	return key[:visible] + "..."
}
