package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"goban/internal/actor"
	"goban/internal/game"
	"goban/internal/metrics"
	"goban/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a Queue.
type Options struct {
	Store         storage.Store
	Creator       GameCreator
	Notifier      Notifier
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Clock         clock.Clock
	SweepInterval time.Duration
}

// Queue is the single matchmaking actor. Every field below mb is owned by
// the mailbox goroutine.
type Queue struct {
	mb       *actor.Mailbox
	store    storage.Store
	creator  GameCreator
	notifier Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	clock    clock.Clock
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	sweeper  sync.WaitGroup

	pool      []Entry
	proposals map[string]*Proposal
	matchOf   map[string]string
	confirmed map[string]Assignment
}

// snapshot is the persisted form of the queue.
type snapshot struct {
	Pool      []Entry               `json:"pool"`
	Proposals []*Proposal           `json:"proposals"`
	Confirmed map[string]Assignment `json:"confirmed"`
}

func New(opts Options) *Queue {
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	return &Queue{
		mb:        actor.New(256),
		store:     opts.Store,
		creator:   opts.Creator,
		notifier:  opts.Notifier,
		log:       opts.Logger.Named("matchmaking"),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		interval:  opts.SweepInterval,
		stop:      make(chan struct{}),
		pool:      []Entry{},
		proposals: make(map[string]*Proposal),
		matchOf:   make(map[string]string),
		confirmed: make(map[string]Assignment),
	}
}

// Start restores persisted state and begins the periodic sweep.
func (q *Queue) Start(ctx context.Context) error {
	err := actor.Do(ctx, q.mb, func() error {
		var snap snapshot
		err := storage.GetJSON(ctx, q.store, storage.QueueKey, &snap)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load queue: %w", err)
		}
		q.pool = append(q.pool[:0], snap.Pool...)
		sortPool(q.pool)
		for _, p := range snap.Proposals {
			if p.Responses == nil {
				p.Responses = map[string]Response{}
			}
			q.proposals[p.ID] = p
			for _, e := range p.Entries {
				q.matchOf[e.ParticipantID] = p.ID
			}
		}
		for k, v := range snap.Confirmed {
			q.confirmed[k] = v
		}
		q.metrics.QueueSize(len(q.pool))
		q.log.Info("queue restored", zap.Int("queued", len(q.pool)), zap.Int("proposals", len(q.proposals)))
		return nil
	})
	if err != nil {
		return err
	}

	ticker := q.clock.Ticker(q.interval)
	q.sweeper.Add(1)
	go func() {
		defer q.sweeper.Done()
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ticker.C:
				q.mb.Post(func() { q.sweep(context.Background()) })
			}
		}
	}()
	return nil
}

// Close stops the sweep and the mailbox.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.sweeper.Wait()
	q.mb.Stop()
}

// Join puts a participant in the pool and tries to pair immediately.
func (q *Queue) Join(ctx context.Context, entry Entry) (Status, error) {
	if entry.ParticipantID == "" {
		return Status{}, ErrNoParticipant
	}
	return actor.Call(ctx, q.mb, func() (Status, error) {
		now := q.clock.Now()
		q.expire(now)
		if q.queued(entry.ParticipantID) >= 0 || q.matchOf[entry.ParticipantID] != "" {
			return Status{}, ErrAlreadyQueued
		}
		delete(q.confirmed, entry.ParticipantID)
		entry.EnqueuedAt = now
		q.insert(entry)
		q.log.Info("participant queued",
			zap.String("participant_id", entry.ParticipantID),
			zap.Int("rating", entry.Rating))
		q.pair(now)
		q.persist(ctx)
		return q.status(entry.ParticipantID, now), nil
	})
}

// Leave removes a queued participant. It does nothing in any other phase.
func (q *Queue) Leave(ctx context.Context, participantID string) (Status, error) {
	return actor.Call(ctx, q.mb, func() (Status, error) {
		now := q.clock.Now()
		q.expire(now)
		if i := q.queued(participantID); i >= 0 {
			q.pool = append(q.pool[:i], q.pool[i+1:]...)
			q.log.Info("participant left queue", zap.String("participant_id", participantID))
			q.persist(ctx)
		}
		return q.status(participantID, now), nil
	})
}

// Status reports a participant's phase.
func (q *Queue) Status(ctx context.Context, participantID string) (Status, error) {
	return actor.Call(ctx, q.mb, func() (Status, error) {
		now := q.clock.Now()
		if q.expire(now) {
			q.persist(ctx)
		}
		return q.status(participantID, now), nil
	})
}

// Accept records an acceptance. When both sides have accepted the game is created.
func (q *Queue) Accept(ctx context.Context, participantID, matchID string) (Status, error) {
	return actor.Call(ctx, q.mb, func() (Status, error) {
		now := q.clock.Now()
		q.expire(now)
		p, err := q.proposalFor(participantID, matchID)
		if err != nil {
			return Status{}, err
		}
		p.Responses[participantID] = ResponseAccepted
		q.log.Info("proposal accepted", zap.String("match_id", p.ID), zap.String("participant_id", participantID))
		if p.accepted(p.Entries[0].ParticipantID) && p.accepted(p.Entries[1].ParticipantID) {
			err = q.confirm(ctx, p, now)
		}
		q.persist(ctx)
		if err != nil {
			return Status{}, err
		}
		return q.status(participantID, now), nil
	})
}

// Reject cancels the proposal at once.
func (q *Queue) Reject(ctx context.Context, participantID, matchID string) (Status, error) {
	return actor.Call(ctx, q.mb, func() (Status, error) {
		now := q.clock.Now()
		q.expire(now)
		p, err := q.proposalFor(participantID, matchID)
		if err != nil {
			return Status{}, err
		}
		p.Responses[participantID] = ResponseRejected
		q.log.Info("proposal rejected", zap.String("match_id", p.ID), zap.String("participant_id", participantID))
		q.cancel(p, MessageCancelled)
		q.metrics.Proposal("rejected")
		q.pair(now)
		q.persist(ctx)
		return q.status(participantID, now), nil
	})
}

func (q *Queue) proposalFor(participantID, matchID string) (*Proposal, error) {
	id := q.matchOf[participantID]
	if id == "" || id != matchID {
		return nil, ErrNoProposal
	}
	p, ok := q.proposals[id]
	if !ok {
		return nil, ErrNoProposal
	}
	return p, nil
}

// confirm creates the game. The lower rated side plays black.
func (q *Queue) confirm(ctx context.Context, p *Proposal, now time.Time) error {
	black, white := p.Entries[0], p.Entries[1]
	if white.Rating < black.Rating {
		black, white = white, black
	}
	state, seats, err := q.creator.CreateRankedGame(ctx,
		game.Participant{ID: black.ParticipantID, Name: black.Name},
		game.Participant{ID: white.ParticipantID, Name: white.Name})
	if err != nil {
		q.log.Error("create ranked game", zap.String("match_id", p.ID), zap.Error(err))
		// Both sides accepted, so both go back to the pool.
		q.cancel(p, MessageCancelled)
		q.metrics.Proposal("failed")
		return fmt.Errorf("create ranked game: %w", err)
	}

	q.remove(p)
	for i, e := range []Entry{black, white} {
		opp := white
		if i == 1 {
			opp = black
		}
		a := Assignment{
			MatchID:      p.ID,
			GameID:       state.ID,
			PlayerID:     seats[i].ID,
			SessionToken: seats[i].SessionToken,
			Color:        seats[i].Color,
			Opponent:     opp.Name,
		}
		q.confirmed[e.ParticipantID] = a
		q.notify(e.ParticipantID, Message{Type: MessageConfirmed, MatchID: p.ID, Assignment: &a})
	}
	q.metrics.Proposal("confirmed")
	q.log.Info("match confirmed",
		zap.String("match_id", p.ID),
		zap.String("game_id", state.ID),
		zap.Duration("time_to_accept", now.Sub(p.CreatedAt)))
	return nil
}

// cancel resolves p without a game. Sides that had accepted go back to the
// pool with their original enqueue time; the others become idle.
func (q *Queue) cancel(p *Proposal, reason MessageType) {
	q.remove(p)
	for _, e := range p.Entries {
		requeued := p.accepted(e.ParticipantID)
		if requeued {
			q.insert(e)
		}
		q.notify(e.ParticipantID, Message{Type: reason, MatchID: p.ID, Requeued: requeued})
	}
}

func (q *Queue) remove(p *Proposal) {
	delete(q.proposals, p.ID)
	for _, e := range p.Entries {
		if q.matchOf[e.ParticipantID] == p.ID {
			delete(q.matchOf, e.ParticipantID)
		}
	}
}

// expire cancels every proposal whose deadline has passed. It reports whether
// anything changed.
func (q *Queue) expire(now time.Time) bool {
	expired := []*Proposal{}
	for _, p := range q.proposals {
		if !now.Before(p.ExpiresAt) {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return false
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	for _, p := range expired {
		q.log.Info("proposal expired", zap.String("match_id", p.ID))
		q.cancel(p, MessageExpired)
		q.metrics.Proposal("expired")
	}
	q.pair(now)
	return true
}

func (q *Queue) sweep(ctx context.Context) {
	now := q.clock.Now()
	changed := q.expire(now)
	before := len(q.pool)
	q.pair(now)
	if changed || len(q.pool) != before {
		q.persist(ctx)
	}
}

// pair walks the pool oldest first. Each entry takes the closest rating
// within its own tolerance; the older side of any pair is the one scanning.
func (q *Queue) pair(now time.Time) {
	for i := 0; i < len(q.pool); i++ {
		a := q.pool[i]
		tolerance := Tolerance(now.Sub(a.EnqueuedAt))
		best, bestDiff := -1, 0
		for j := i + 1; j < len(q.pool); j++ {
			diff := abs(q.pool[j].Rating - a.Rating)
			if diff <= tolerance && (best < 0 || diff < bestDiff) {
				best, bestDiff = j, diff
			}
		}
		if best < 0 {
			continue
		}
		b := q.pool[best]
		q.pool = append(q.pool[:best], q.pool[best+1:]...)
		q.pool = append(q.pool[:i], q.pool[i+1:]...)
		q.propose(a, b, now)
		i--
	}
	q.metrics.QueueSize(len(q.pool))
}

func (q *Queue) propose(a, b Entry, now time.Time) {
	p := &Proposal{
		ID:        uuid.NewString(),
		Entries:   [2]Entry{a, b},
		CreatedAt: now,
		ExpiresAt: now.Add(ProposalTTL),
		Responses: map[string]Response{},
	}
	q.proposals[p.ID] = p
	q.matchOf[a.ParticipantID] = p.ID
	q.matchOf[b.ParticipantID] = p.ID
	q.metrics.Proposal("created")
	q.log.Info("proposal created",
		zap.String("match_id", p.ID),
		zap.String("participant_a", a.ParticipantID),
		zap.String("participant_b", b.ParticipantID),
		zap.Int("rating_gap", abs(a.Rating-b.Rating)))

	expires := p.ExpiresAt
	q.notify(a.ParticipantID, Message{Type: MessageProposal, MatchID: p.ID, Opponent: &Opponent{Name: b.Name, Rating: b.Rating}, ExpiresAt: &expires})
	q.notify(b.ParticipantID, Message{Type: MessageProposal, MatchID: p.ID, Opponent: &Opponent{Name: a.Name, Rating: a.Rating}, ExpiresAt: &expires})
}

func (q *Queue) status(participantID string, now time.Time) Status {
	st := Status{Phase: PhaseIdle, QueueSize: len(q.pool)}
	if i := q.queued(participantID); i >= 0 {
		e := q.pool[i]
		wait := now.Sub(e.EnqueuedAt)
		st.Phase = PhaseQueued
		st.Rating = e.Rating
		st.WaitingMs = wait.Milliseconds()
		st.Tolerance = Tolerance(wait)
		return st
	}
	if id := q.matchOf[participantID]; id != "" {
		p := q.proposals[id]
		side := p.side(participantID)
		opp := p.Entries[1-side]
		st.Phase = PhaseProposed
		st.Rating = p.Entries[side].Rating
		st.MatchID = p.ID
		st.RemainingMs = p.ExpiresAt.Sub(now).Milliseconds()
		st.Opponent = &Opponent{Name: opp.Name, Rating: opp.Rating}
		st.Accepted = p.accepted(participantID)
		return st
	}
	if a, ok := q.confirmed[participantID]; ok {
		st.Phase = PhaseConfirmed
		st.MatchID = a.MatchID
		st.Assignment = &a
	}
	return st
}

func (q *Queue) queued(participantID string) int {
	for i, e := range q.pool {
		if e.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

func (q *Queue) insert(e Entry) {
	q.pool = append(q.pool, e)
	sortPool(q.pool)
}

func (q *Queue) notify(participantID string, msg Message) {
	if q.notifier != nil {
		q.notifier.NotifyParticipant(participantID, msg)
	}
}

// persist writes the queue. A failed write is logged; memory stays authoritative.
func (q *Queue) persist(ctx context.Context) {
	snap := snapshot{
		Pool:      q.pool,
		Proposals: make([]*Proposal, 0, len(q.proposals)),
		Confirmed: q.confirmed,
	}
	for _, p := range q.proposals {
		snap.Proposals = append(snap.Proposals, p)
	}
	if err := storage.PutJSON(ctx, q.store, storage.QueueKey, snap); err != nil {
		q.log.Error("persist queue", zap.Error(err))
	}
}

func sortPool(pool []Entry) {
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].EnqueuedAt.Before(pool[j].EnqueuedAt) })
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
