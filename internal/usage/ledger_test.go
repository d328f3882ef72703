// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAppendAndUserSpend(t *testing.T) {
	l := newTestLedger(t)

	records := []Record{
		{RequestID: "r1", UserID: "alice", Capability: "chat", ModelID: "gpt-4o-mini", Provider: "openai", InputTokens: 100, OutputTokens: 50, Cost: 0.002, Success: true},
		{RequestID: "r2", UserID: "alice", Capability: "coding", ModelID: "qwen2.5-coder:14b", Provider: "ollama", InputTokens: 400, OutputTokens: 200, Success: true},
		{RequestID: "r3", UserID: "bob", Capability: "chat", ModelID: "gpt-4o-mini", Provider: "openai", InputTokens: 10, OutputTokens: 5, Cost: 0.001, Success: true},
	}
	for _, r := range records {
		if err := l.Append(r); err != nil {
			t.Fatalf("append %s: %v", r.RequestID, err)
		}
	}

	alice, err := l.UserDailySpend("alice")
	if err != nil {
		t.Fatalf("user daily spend: %v", err)
	}
	if !almostEqual(alice, 0.002) {
		t.Errorf("alice daily spend = %f, want 0.002", alice)
	}

	global, err := l.GlobalDailySpend()
	if err != nil {
		t.Fatalf("global daily spend: %v", err)
	}
	if !almostEqual(global, 0.003) {
		t.Errorf("global daily spend = %f, want 0.003", global)
	}

	monthly, err := l.GlobalMonthlySpend()
	if err != nil {
		t.Fatalf("global monthly spend: %v", err)
	}
	if monthly < global {
		t.Error("monthly spend cannot be below daily spend")
	}
}

func TestSpendWindowExcludesOldRecords(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Append(Record{
		RequestID: "old", UserID: "alice", Capability: "chat",
		Cost: 5.0, Success: true,
		Timestamp: time.Now().AddDate(0, -2, 0),
	}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(Record{
		RequestID: "new", UserID: "alice", Capability: "chat",
		Cost: 1.0, Success: true,
	}); err != nil {
		t.Fatal(err)
	}

	daily, err := l.UserDailySpend("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(daily, 1.0) {
		t.Errorf("daily spend includes old records: %f", daily)
	}
	monthly, err := l.UserMonthlySpend("alice")
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(monthly, 1.0) {
		t.Errorf("monthly spend includes records from prior months: %f", monthly)
	}
}

func TestFailedRequestsAreRecorded(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Append(Record{
		RequestID: "r1", UserID: "alice", Capability: "chat",
		Success: false, ErrorKind: "no_available_model",
	}); err != nil {
		t.Fatal(err)
	}

	totals, err := l.DailyTotals(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 1 || totals[0].Requests != 1 {
		t.Errorf("failed request missing from totals: %+v", totals)
	}
}

func TestDailyTotals(t *testing.T) {
	l := newTestLedger(t)

	for i := 0; i < 3; i++ {
		if err := l.Append(Record{
			RequestID: "r", UserID: "alice", Capability: "chat",
			InputTokens: 100, OutputTokens: 100, Cost: 0.01, Success: true,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Append(Record{
		RequestID: "y", UserID: "alice", Capability: "chat",
		InputTokens: 10, OutputTokens: 10, Cost: 0.5, Success: true,
		Timestamp: time.Now().AddDate(0, 0, -1),
	}); err != nil {
		t.Fatal(err)
	}

	totals, err := l.DailyTotals(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 2 {
		t.Fatalf("got %d days, want 2: %+v", len(totals), totals)
	}
	// Newest first.
	today := totals[0]
	if today.Requests != 3 || today.Tokens != 600 || !almostEqual(today.Cost, 0.03) {
		t.Errorf("today's totals wrong: %+v", today)
	}
	if totals[1].Requests != 1 {
		t.Errorf("yesterday's totals wrong: %+v", totals[1])
	}

	narrow, err := l.DailyTotals(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(narrow) != 1 {
		t.Errorf("1-day window should exclude yesterday: %+v", narrow)
	}
}
