package service

import (
	"context"
	"errors"
	"time"

	"github.com/shinyyama/chat-ledger-backend/internal/logger"
	"github.com/shinyyama/chat-ledger-backend/internal/model"
	"github.com/shinyyama/chat-ledger-backend/internal/repository"
	"github.com/shinyyama/chat-ledger-backend/internal/reqctx"
	"github.com/sirupsen/logrus"
)

// Source tells where a Snapshot came from.
type Source string

const (
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
	// SourceSkipped means the wallet has not minted and nothing was read or written.
	SourceSkipped Source = "skipped"
)

// Snapshot is the account state observed or produced by a ledger call.
type Snapshot struct {
	Wallet           string    `json:"wallet"`
	Balance          int64     `json:"balance"`
	Points           int64     `json:"points"`
	TotalTokensSpent int64     `json:"total_tokens_spent"`
	UpdatedAt        time.Time `json:"updated_at"`
	Source           Source    `json:"source"`
}

// SpendRequest carries a caller-computed usage charge. Credits is the delta
// applied to an existing row; PointsTotal, TotalSpent and NewBalance are the
// absolute values used when no row exists yet.
type SpendRequest struct {
	Credits     int64
	PointsTotal int64
	TotalSpent  int64
	NewBalance  int64
}

type BalanceLedger interface {
	Balance(ctx context.Context, wallet string) (Snapshot, error)
	Spend(ctx context.Context, wallet string, req SpendRequest) (Snapshot, error)
	TopUp(ctx context.Context, wallet string, amount int64) (Snapshot, error)
}

type balanceLedger struct {
	accounts repository.AccountRepository
	mints    MintChecker
	cache    *FallbackCache
	policy   RetryPolicy
}

func NewBalanceLedger(accounts repository.AccountRepository, mints MintChecker, cache *FallbackCache, policy RetryPolicy) BalanceLedger {
	if mints == nil {
		mints = AllowAllMints
	}
	if cache == nil {
		cache = NewFallbackCache()
	}
	return &balanceLedger{accounts: accounts, mints: mints, cache: cache, policy: policy}
}

var errConflict = errors.New("balance changed concurrently")

// mutation describes one ledger write. seed builds the row for a wallet with no
// row, apply derives the next row from the current one, and fallback does the
// same against the in-memory cache.
type mutation struct {
	op       string
	seed     func() model.Account
	apply    func(cur model.Account) model.Account
	fallback func(cur FallbackEntry, exists bool) FallbackEntry
}

func (l *balanceLedger) Balance(ctx context.Context, wallet string) (Snapshot, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Snapshot{}, err
	}
	log := l.log(ctx, w, "balance")

	acc, err := l.accounts.Get(ctx, w)
	if err != nil {
		log.WithError(err).Warn("balance read failed, serving fallback")
		return l.fallbackSnapshot(w), nil
	}
	if acc != nil {
		return snapshotFromAccount(acc, SourceStore), nil
	}

	if !l.minted(ctx, w, log) {
		return Snapshot{Wallet: w, Source: SourceSkipped}, nil
	}
	fresh := model.Account{WalletAddress: w}
	if _, err := l.accounts.CreateIfAbsent(ctx, &fresh); err != nil {
		log.WithError(err).Warn("balance row create failed, serving fallback")
		return l.fallbackSnapshot(w), nil
	}
	acc, err = l.accounts.Get(ctx, w)
	if err != nil || acc == nil {
		return Snapshot{Wallet: w, UpdatedAt: time.Now(), Source: SourceStore}, nil
	}
	return snapshotFromAccount(acc, SourceStore), nil
}

func (l *balanceLedger) Spend(ctx context.Context, wallet string, req SpendRequest) (Snapshot, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Snapshot{}, err
	}
	if req.Credits < 0 {
		req.Credits = 0
	}
	return l.mutate(ctx, w, mutation{
		op: "spend",
		seed: func() model.Account {
			return model.Account{
				Balance:          model.Credits(nonNegative(req.NewBalance)),
				Points:           model.Credits(nonNegative(req.PointsTotal)),
				TotalTokensSpent: model.Credits(nonNegative(req.TotalSpent)),
			}
		},
		apply: func(cur model.Account) model.Account {
			next := cur
			next.Balance = model.Credits(nonNegative(nonNegative(cur.Balance.Int64()) - req.Credits))
			next.Points = model.Credits(maxInt64(cur.Points.Int64(), req.PointsTotal))
			next.TotalTokensSpent = model.Credits(maxInt64(cur.TotalTokensSpent.Int64(), req.TotalSpent))
			return next
		},
		fallback: func(cur FallbackEntry, exists bool) FallbackEntry {
			if !exists {
				return FallbackEntry{
					Balance:          nonNegative(req.NewBalance),
					Points:           nonNegative(req.PointsTotal),
					TotalTokensSpent: nonNegative(req.TotalSpent),
				}
			}
			cur.Balance = nonNegative(nonNegative(cur.Balance) - req.Credits)
			cur.Points = maxInt64(cur.Points, req.PointsTotal)
			cur.TotalTokensSpent = maxInt64(cur.TotalTokensSpent, req.TotalSpent)
			return cur
		},
	}), nil
}

func (l *balanceLedger) TopUp(ctx context.Context, wallet string, amount int64) (Snapshot, error) {
	w, err := NormalizeWallet(wallet)
	if err != nil {
		return Snapshot{}, err
	}
	if amount <= 0 {
		return Snapshot{}, ErrInvalidAmount
	}
	return l.mutate(ctx, w, mutation{
		op: "topup",
		seed: func() model.Account {
			return model.Account{Balance: model.Credits(amount)}
		},
		apply: func(cur model.Account) model.Account {
			next := cur
			next.Balance = model.Credits(nonNegative(cur.Balance.Int64()) + amount)
			return next
		},
		fallback: func(cur FallbackEntry, exists bool) FallbackEntry {
			if !exists {
				return FallbackEntry{Balance: amount}
			}
			cur.Balance = nonNegative(cur.Balance) + amount
			return cur
		},
	}), nil
}

// mutate runs m against the durable store with optimistic concurrency and
// degrades to the fallback cache when the store errors or retries run out.
func (l *balanceLedger) mutate(ctx context.Context, wallet string, m mutation) Snapshot {
	log := l.log(ctx, wallet, m.op)

	var (
		result   Snapshot
		observed *model.Account
	)
	err := l.policy.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			log.WithField("attempt", attempt).Debug("ledger retry")
		}
		cur, err := l.accounts.Get(ctx, wallet)
		if err != nil {
			if errors.Is(err, repository.ErrDBNotReady) {
				return Permanent(err)
			}
			return err
		}

		if cur == nil {
			if !l.minted(ctx, wallet, log) {
				result = Snapshot{Wallet: wallet, Source: SourceSkipped}
				return nil
			}
			fresh := m.seed()
			fresh.WalletAddress = wallet
			created, err := l.accounts.CreateIfAbsent(ctx, &fresh)
			if err != nil {
				return err
			}
			if !created {
				return errConflict
			}
			result = snapshotFromAccount(&fresh, SourceStore)
			return nil
		}

		observed = cur
		next := m.apply(*cur)
		ok, err := l.accounts.CompareAndSwap(ctx, wallet, cur.Balance.Int64(), &next)
		if err != nil {
			return err
		}
		if !ok {
			return errConflict
		}
		next.UpdatedAt = time.Now()
		result = snapshotFromAccount(&next, SourceStore)
		// counters may have advanced past what this attempt read
		if stored, err := l.accounts.Get(ctx, wallet); err == nil && stored != nil {
			result.Points = maxInt64(result.Points, nonNegative(stored.Points.Int64()))
			result.TotalTokensSpent = maxInt64(result.TotalTokensSpent, nonNegative(stored.TotalTokensSpent.Int64()))
		}
		return nil
	})
	if err == nil {
		return result
	}

	log.WithError(err).Warn("ledger write degraded to fallback cache")
	entry := l.cache.Update(wallet, func(cur FallbackEntry, exists bool) FallbackEntry {
		if !exists && observed != nil {
			cur = FallbackEntry{
				Balance:          nonNegative(observed.Balance.Int64()),
				Points:           observed.Points.Int64(),
				TotalTokensSpent: observed.TotalTokensSpent.Int64(),
			}
			exists = true
		}
		return m.fallback(cur, exists)
	})
	return snapshotFromEntry(wallet, entry)
}

// minted fails open: a checker error counts as minted.
func (l *balanceLedger) minted(ctx context.Context, wallet string, log *logrus.Entry) bool {
	ok, err := l.mints.HasMinted(ctx, wallet)
	if err != nil {
		log.WithError(err).Warn("mint check failed, allowing")
		return true
	}
	return ok
}

func (l *balanceLedger) fallbackSnapshot(wallet string) Snapshot {
	e, ok := l.cache.Get(wallet)
	if !ok {
		return Snapshot{Wallet: wallet, UpdatedAt: time.Now(), Source: SourceFallback}
	}
	return snapshotFromEntry(wallet, e)
}

func (l *balanceLedger) log(ctx context.Context, wallet, op string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"rid":    reqctx.RID(ctx),
		"wallet": wallet,
		"op":     op,
	})
}

func snapshotFromAccount(acc *model.Account, src Source) Snapshot {
	return Snapshot{
		Wallet:           acc.WalletAddress,
		Balance:          nonNegative(acc.Balance.Int64()),
		Points:           nonNegative(acc.Points.Int64()),
		TotalTokensSpent: nonNegative(acc.TotalTokensSpent.Int64()),
		UpdatedAt:        acc.UpdatedAt,
		Source:           src,
	}
}

func snapshotFromEntry(wallet string, e FallbackEntry) Snapshot {
	return Snapshot{
		Wallet:           wallet,
		Balance:          nonNegative(e.Balance),
		Points:           nonNegative(e.Points),
		TotalTokensSpent: nonNegative(e.TotalTokensSpent),
		UpdatedAt:        e.UpdatedAt,
		Source:           SourceFallback,
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
