package ledger

import (
	"sync"
	"testing"
	"time"

	"stealth-trader/internal/errors"
	"stealth-trader/internal/models"
)

func position(symbol string, notional float64) *models.Position {
	return &models.Position{
		Symbol:          symbol,
		Side:            models.SideLong,
		EntryPrice:      100,
		CurrentPrice:    100,
		HighestPrice:    100,
		Quantity:        int(notional / 100),
		NotionalValue:   notional,
		Stage:           models.StageInitial,
		StopPrice:       97,
		InitialStop:     97,
		TakeProfitPrice: 110,
		OpenedAt:        time.Now(),
	}
}

func portfolio(capital float64) models.PortfolioState {
	return models.PortfolioState{AvailableCapital: capital}
}

func TestInsert_RejectsDuplicateSymbol(t *testing.T) {
	l := New()
	state := portfolio(100000)

	if err := l.Insert(position("TCS", 10000), state); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := l.Insert(position("TCS", 5000), state)
	if !errors.Is(err, errors.ErrPositionExists) {
		t.Errorf("duplicate insert error = %v, want ErrPositionExists", err)
	}
}

func TestInsert_EnforcesPositionCap(t *testing.T) {
	l := New()

	// 36% of capital exceeds the 35% single-position cap.
	err := l.Insert(position("TCS", 36000), portfolio(100000))
	if !errors.Is(err, errors.ErrCapExceeded) {
		t.Errorf("oversized insert error = %v, want ErrCapExceeded", err)
	}
	if l.Count() != 0 {
		t.Errorf("Count = %d after rejected insert, want 0", l.Count())
	}
}

func TestInsert_EnforcesPortfolioCap(t *testing.T) {
	l := New()
	state := portfolio(100000)

	// Three 30% positions leave 80% - 60% = 20% headroom; the third
	// position would push the total to 90% and is rejected.
	if err := l.Insert(position("A", 30000), state); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if err := l.Insert(position("B", 30000), state); err != nil {
		t.Fatalf("insert B: %v", err)
	}
	err := l.Insert(position("C", 30000), state)
	if !errors.Is(err, errors.ErrCapExceeded) {
		t.Errorf("portfolio-cap insert error = %v, want ErrCapExceeded", err)
	}

	// A smaller position that fits the remaining headroom is admitted.
	if err := l.Insert(position("D", 15000), state); err != nil {
		t.Errorf("insert D within headroom failed: %v", err)
	}
}

func TestInsert_ConcurrentNearCapAdmitsExactlyOne(t *testing.T) {
	// Two cap-respecting seeds leave headroom for one more 30%
	// position. Ten goroutines race to claim it; exactly one insert
	// succeeds.
	l := New()
	state := portfolio(100000)
	if err := l.Insert(position("BASE1", 30000), state); err != nil {
		t.Fatalf("seeding insert BASE1: %v", err)
	}
	if err := l.Insert(position("BASE2", 20000), state); err != nil {
		t.Fatalf("seeding insert BASE2: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 10)
	start := make(chan struct{})

	symbols := []string{"S0", "S1", "S2", "S3", "S4", "S5", "S6", "S7", "S8", "S9"}
	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			<-start
			results <- l.Insert(position(sym, 30000), state)
		}(symbol)
	}

	close(start)
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, errors.ErrCapExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("concurrent inserts admitted %d, want exactly 1", successes)
	}
}

func TestApply_RejectsLoosening(t *testing.T) {
	l := New()
	if err := l.Insert(position("TCS", 10000), portfolio(100000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cur, _ := l.Get("TCS")

	lowerStop := cur.Clone()
	lowerStop.StopPrice = cur.StopPrice - 1
	if err := l.Apply(lowerStop); !errors.Is(err, errors.ErrLedgerInvariant) {
		t.Errorf("looser stop error = %v, want ErrLedgerInvariant", err)
	}

	lowerTP := cur.Clone()
	lowerTP.TakeProfitPrice = cur.TakeProfitPrice - 1
	if err := l.Apply(lowerTP); !errors.Is(err, errors.ErrLedgerInvariant) {
		t.Errorf("lower take-profit error = %v, want ErrLedgerInvariant", err)
	}

	// State retained after rejections.
	after, _ := l.Get("TCS")
	if after.StopPrice != cur.StopPrice || after.TakeProfitPrice != cur.TakeProfitPrice {
		t.Error("rejected Apply mutated ledger state")
	}
}

func TestApply_RejectsStageRegression(t *testing.T) {
	l := New()
	if err := l.Insert(position("TCS", 10000), portfolio(100000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	advanced, _ := l.Get("TCS")
	advanced.Stage = models.StageTrailing
	advanced.StopPrice = 100
	if err := l.Apply(advanced); err != nil {
		t.Fatalf("advancing Apply failed: %v", err)
	}

	regressed, _ := l.Get("TCS")
	regressed.Stage = models.StageBreakeven
	if err := l.Apply(regressed); !errors.Is(err, errors.ErrLedgerInvariant) {
		t.Errorf("stage regression error = %v, want ErrLedgerInvariant", err)
	}
}

func TestBeginClose_AtMostOnce(t *testing.T) {
	l := New()
	if err := l.Insert(position("TCS", 10000), portfolio(100000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	pos, err := l.BeginClose("TCS")
	if err != nil {
		t.Fatalf("first BeginClose: %v", err)
	}
	if pos == nil || pos.Symbol != "TCS" {
		t.Fatalf("BeginClose returned %+v", pos)
	}

	if _, err := l.BeginClose("TCS"); !errors.Is(err, errors.ErrPositionClosing) {
		t.Errorf("second BeginClose error = %v, want ErrPositionClosing", err)
	}

	// A closing position no longer accepts updates and leaves the
	// monitoring set.
	upd := pos.Clone()
	upd.CurrentPrice = 101
	if err := l.Apply(upd); !errors.Is(err, errors.ErrPositionClosing) {
		t.Errorf("Apply on closing position error = %v, want ErrPositionClosing", err)
	}
	if len(l.Symbols()) != 0 {
		t.Errorf("Symbols() still lists closing position")
	}

	l.FinalizeClose("TCS")
	if _, ok := l.Get("TCS"); ok {
		t.Error("position present after FinalizeClose")
	}
}

func TestBeginClose_ConcurrentClaimsYieldOneWinner(t *testing.T) {
	l := New()
	if err := l.Insert(position("TCS", 10000), portfolio(100000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan bool, 20)
	start := make(chan struct{})

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.BeginClose("TCS")
			wins <- err == nil
		}()
	}

	close(start)
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("concurrent BeginClose winners = %d, want exactly 1", winners)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	l := New()
	if err := l.Insert(position("TCS", 10000), portfolio(100000)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, _ := l.Get("TCS")
	got.StopPrice = 1 // mutate the copy

	again, _ := l.Get("TCS")
	if again.StopPrice != 97 {
		t.Errorf("ledger state mutated through returned copy: StopPrice = %.2f", again.StopPrice)
	}
}

func TestPortfolio_DerivedView(t *testing.T) {
	l := New()
	state := portfolio(100000)

	a := position("A", 10000)
	a.CurrentPrice = 105
	b := position("B", 20000)
	b.CurrentPrice = 98

	if err := l.Insert(a, state); err != nil {
		t.Fatalf("insert A: %v", err)
	}
	if err := l.Insert(b, state); err != nil {
		t.Fatalf("insert B: %v", err)
	}

	snap := l.Portfolio()
	if snap.OpenPositions != 2 {
		t.Errorf("OpenPositions = %d, want 2", snap.OpenPositions)
	}
	if snap.TotalNotional != 30000 {
		t.Errorf("TotalNotional = %.2f, want 30000", snap.TotalNotional)
	}
	// A: +5 * 100 shares = +500; B: -2 * 200 shares = -400
	if snap.UnrealizedPnL != 100 {
		t.Errorf("UnrealizedPnL = %.2f, want 100", snap.UnrealizedPnL)
	}
}
