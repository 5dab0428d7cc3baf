// SPDX-License-Identifier: MIT

// Package leaderboard maintains the ranked view of a session in the
// ephemeral store's sorted set. Ordering is total score descending, total
// time ascending, participant id ascending.
//
// The sorted-set score is the composite
//
//	totalScore*1e9 - totalTimeMs
//
// which encodes the first two criteria in one float64 (exact for scores up
// to ~9e15, far beyond any session). The final participant-id tie-break is
// applied at read time: the store orders equal scores by member descending
// in reverse ranges, the opposite of what we want.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quizwire/quizwire/internal/quiz/model"
	"github.com/quizwire/quizwire/internal/store"
)

// compositeBase shifts totalScore past any plausible totalTimeMs.
const compositeBase = 1e9

// pageSize bounds tie-group scans in Rank.
const pageSize = 64

// Entry is one ranked row. Rank is 1-based.
type Entry struct {
	ParticipantID string
	TotalScore    int
	TotalTimeMs   int64
	Rank          int
}

// Board answers rank and top-N queries for one session's leaderboard.
type Board struct {
	eph store.Ephemeral
}

// New creates a Board on the given ephemeral store.
func New(eph store.Ephemeral) *Board {
	return &Board{eph: eph}
}

func composite(totalScore int, totalTimeMs int64) float64 {
	return float64(totalScore)*compositeBase - float64(totalTimeMs)
}

func decompose(score float64) (int, int64) {
	totalScore := int((score + compositeBase/2) / compositeBase) // nearest multiple
	totalTimeMs := int64(float64(totalScore)*compositeBase - score)
	return totalScore, totalTimeMs
}

// Update writes a participant's aggregates and bumps the session's sequence
// number. The returned sequence lets consumers drop stale broadcasts.
func (b *Board) Update(ctx context.Context, sessionID, participantID string, totalScore int, totalTimeMs int64) (int64, error) {
	if err := b.eph.ZAdd(ctx, store.LeaderboardKey(sessionID), participantID, composite(totalScore, totalTimeMs)); err != nil {
		return 0, fmt.Errorf("leaderboard update: %w", err)
	}
	seq, err := b.eph.Incr(ctx, store.LeaderboardSeqKey(sessionID))
	if err != nil {
		return 0, fmt.Errorf("leaderboard sequence: %w", err)
	}
	return seq, nil
}

// Remove drops a participant from the board (kick, ban).
func (b *Board) Remove(ctx context.Context, sessionID, participantID string) error {
	return b.eph.ZRem(ctx, store.LeaderboardKey(sessionID), participantID)
}

// Size returns the number of ranked participants.
func (b *Board) Size(ctx context.Context, sessionID string) (int64, error) {
	return b.eph.ZCard(ctx, store.LeaderboardKey(sessionID))
}

// Sequence returns the current broadcast sequence number without bumping it.
func (b *Board) Sequence(ctx context.Context, sessionID string) (int64, error) {
	val, err := b.eph.Get(ctx, store.LeaderboardSeqKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var seq int64
	if _, err := fmt.Sscanf(val, "%d", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// TopN returns the first n entries in rank order.
//
// One extra page is fetched so a tie group straddling the cut is ordered
// correctly before truncation.
func (b *Board) TopN(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	members, err := b.eph.ZRevRangeWithScores(ctx, store.LeaderboardKey(sessionID), 0, int64(n+pageSize-1))
	if err != nil {
		return nil, fmt.Errorf("leaderboard range: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, m := range members {
		score, timeMs := decompose(m.Score)
		entries = append(entries, Entry{ParticipantID: m.Member, TotalScore: score, TotalTimeMs: timeMs})
	}

	// store order is stable except inside equal-composite groups
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if entries[i].TotalTimeMs != entries[j].TotalTimeMs {
			return entries[i].TotalTimeMs < entries[j].TotalTimeMs
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// Rank returns the 1-based rank of a participant, or store.ErrNotFound when
// the participant is not on the board.
//
// The fast path is a single reverse-rank lookup. When neighbours share the
// composite score the tie group is scanned and re-ordered by participant id
// ascending.
func (b *Board) Rank(ctx context.Context, sessionID, participantID string) (int, error) {
	key := store.LeaderboardKey(sessionID)

	myScore, err := b.eph.ZScore(ctx, key, participantID)
	if err != nil {
		return 0, err
	}
	revRank, err := b.eph.ZRevRank(ctx, key, participantID)
	if err != nil {
		return 0, err
	}

	groupStart, groupLen, err := b.tieGroup(ctx, key, revRank, myScore)
	if err != nil {
		return 0, err
	}
	if groupLen <= 1 {
		return int(revRank) + 1, nil
	}

	// Within an equal-composite group the store's reverse order is id
	// descending; invert my offset to get id-ascending placement.
	offset := revRank - groupStart
	return int(groupStart+groupLen-1-offset) + 1, nil
}

// tieGroup finds the contiguous reverse-range block [start, start+len) whose
// members share score.
func (b *Board) tieGroup(ctx context.Context, key string, revRank int64, score float64) (int64, int64, error) {
	start := revRank
backward:
	for start > 0 {
		lo := start - pageSize
		if lo < 0 {
			lo = 0
		}
		page, err := b.eph.ZRevRangeWithScores(ctx, key, lo, start-1)
		if err != nil {
			return 0, 0, err
		}
		for i := len(page) - 1; i >= 0; i-- {
			if page[i].Score != score {
				break backward
			}
			start--
		}
	}

	end := revRank + 1
	for {
		page, err := b.eph.ZRevRangeWithScores(ctx, key, end, end+pageSize-1)
		if err != nil {
			return 0, 0, err
		}
		if len(page) == 0 {
			break
		}
		advanced := 0
		for _, m := range page {
			if m.Score != score {
				break
			}
			advanced++
		}
		end += int64(advanced)
		if advanced < len(page) {
			break
		}
	}

	return start, end - start, nil
}

// Coalescer throttles leaderboard broadcasts to at most one per interval per
// session. Triggers within the interval collapse into a single trailing-edge
// emit, so the broadcast always carries the latest snapshot.
type Coalescer struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func(sessionID string)
	armed    map[string]bool
}

// NewCoalescer creates a coalescer calling emit at most once per interval
// per session. emit runs on a timer goroutine.
func NewCoalescer(interval time.Duration, emit func(sessionID string)) *Coalescer {
	return &Coalescer{
		interval: interval,
		emit:     emit,
		armed:    make(map[string]bool),
	}
}

// Trigger requests a broadcast for sessionID. The first trigger in a quiet
// period arms a timer; further triggers before it fires are absorbed.
func (c *Coalescer) Trigger(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed[sessionID] {
		return
	}
	c.armed[sessionID] = true
	time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		delete(c.armed, sessionID)
		c.mu.Unlock()
		c.emit(sessionID)
	})
}

// Forget drops any pending state for an ended session. An already-armed
// timer still fires once; emit implementations must tolerate a gone session.
func (c *Coalescer) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.armed, sessionID)
	c.mu.Unlock()
}

// Payload assembles the broadcast body for a session, enriching entries with
// nicknames from the given lookup.
func Payload(entries []Entry, seq int64, nickname func(participantID string) string, streak func(participantID string) int) model.LeaderboardPayload {
	rows := make([]model.LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, model.LeaderboardEntry{
			ParticipantID: e.ParticipantID,
			Nickname:      nickname(e.ParticipantID),
			TotalScore:    e.TotalScore,
			TotalTimeMs:   e.TotalTimeMs,
			StreakCount:   streak(e.ParticipantID),
			Rank:          e.Rank,
		})
	}
	return model.LeaderboardPayload{Leaderboard: rows, TopN: len(rows), Sequence: uint64(seq)}
}
