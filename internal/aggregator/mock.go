package aggregator

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-aggregator/internal/types"
)

// Clock returns the current time. Injected so demo data is reproducible.
type Clock func() time.Time

// mockSource is the shared machinery of the demo aggregators: credential
// derivation and a PRNG that is a pure function of (seed, credential, day).
type mockSource struct {
	family      string
	accountType types.AccountType
	namePrefix  string
	seed        int64
	clock       Clock
}

func newMockSource(family string, accountType types.AccountType, namePrefix string, seed int64, clock Clock) mockSource {
	if clock == nil {
		clock = time.Now
	}
	return mockSource{
		family:      family,
		accountType: accountType,
		namePrefix:  namePrefix,
		seed:        seed,
		clock:       clock,
	}
}

func (m mockSource) Family() string {
	return m.family
}

func (m mockSource) ExchangeToken(ctx context.Context, publicToken string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateToken(publicToken); err != nil {
		return "", NewAggregatorError(m.family, "ExchangeToken", err)
	}
	return fmt.Sprintf("mock_%s_token_%s", m.family, lastN(publicToken, 8)), nil
}

func (m mockSource) GetAccountInfo(ctx context.Context, accessToken string) (*AccountInfo, error) {
	if err := m.check(ctx, "GetAccountInfo", accessToken); err != nil {
		return nil, err
	}
	return &AccountInfo{
		ProviderAccountID: fmt.Sprintf("%s_%s", m.family, lastN(accessToken, 8)),
		Name:              fmt.Sprintf("%s %s", m.namePrefix, lastN(accessToken, 4)),
		Type:              m.accountType,
		Status:            "active",
	}, nil
}

func (m mockSource) check(ctx context.Context, op, accessToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateToken(accessToken); err != nil {
		return NewAggregatorError(m.family, op, err)
	}
	return nil
}

// today is the injected clock truncated to the UTC day
func (m mockSource) today() time.Time {
	return m.clock().UTC().Truncate(24 * time.Hour)
}

// rng derives a deterministic source. salt separates holdings from
// transactions so each stream is stable on its own.
func (m mockSource) rng(accessToken, salt string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(accessToken))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(salt))
	day := m.today().Unix() / 86400
	return rand.New(rand.NewSource(m.seed ^ int64(h.Sum64()) ^ day))
}

// uniform returns a value in [lo, hi) rounded to 2 dp
func uniform(r *rand.Rand, lo, hi float64) decimal.Decimal {
	return decimal.NewFromFloat(lo + r.Float64()*(hi-lo)).Round(2)
}

// between returns an int in [lo, hi]
func between(r *rand.Rand, lo, hi int) int {
	return lo + r.Intn(hi-lo+1)
}

func sortByDateDesc(txs []*TransactionData) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.After(txs[j].Date)
	})
}
