package matching

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/findosh/mingle/internal/models"
	"github.com/findosh/mingle/internal/services/broadcast"
	"github.com/findosh/mingle/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(sessionID, event string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == event {
			n++
		}
	}
	return n
}

type countingNotifier struct {
	calls atomic.Int64
}

func (n *countingNotifier) Notify(sessionID string) { n.calls.Add(1) }

type fixture struct {
	players   *storage.PlayerRepository
	publisher *recordingPublisher
	notifier  *countingNotifier
	protocol  *Protocol
}

func newFixture(t *testing.T, rewards Rewards) *fixture {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })

	sessions := storage.NewSessionRepository(db)
	session := models.NewSession("abc", "Test", 10, []models.Question{{Field: "food", Prompt: "Food?"}}, "hash")
	require.NoError(t, sessions.Create(context.Background(), session))

	f := &fixture{
		players:   storage.NewPlayerRepository(db),
		publisher: &recordingPublisher{},
		notifier:  &countingNotifier{},
	}
	f.protocol = NewProtocol(f.players, rewards, f.publisher, f.notifier)
	return f
}

func (f *fixture) join(t *testing.T, name string) *models.Player {
	t.Helper()
	p := f.joinWithoutProfile(t, name)
	ok, err := f.players.SaveProfile(context.Background(), "abc", p.ID, models.Profile{"food": "pizza"})
	require.NoError(t, err)
	require.True(t, ok)
	p.HasProfile = true
	return p
}

func (f *fixture) joinWithoutProfile(t *testing.T, name string) *models.Player {
	t.Helper()
	p := models.NewPlayer("abc", name, "")
	ok, err := f.players.CreateIfOpen(context.Background(), p)
	require.NoError(t, err)
	require.True(t, ok)
	return p
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *models.Player {
	t.Helper()
	p, err := f.players.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestConfirm_FirstMatchCompletesTwoPlayerSession(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	a := f.join(t, "A")
	b := f.join(t, "B")

	result, err := f.protocol.Confirm(context.Background(), ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID})
	require.NoError(t, err)
	assert.True(t, result.Recorded)
	assert.False(t, result.AlreadyRecorded)
	assert.True(t, result.IsCompleted)
	assert.Equal(t, 1, result.MatchCount)
	assert.Equal(t, 1, result.RequiredCount)

	finder := f.load(t, a.ID)
	assert.Equal(t, 100, finder.Score)
	assert.Equal(t, 1, finder.PeopleKnown)
	require.Len(t, finder.Matches, 1)
	assert.Equal(t, b.ID, finder.Matches[0].PlayerID)
	assert.Equal(t, "B", finder.Matches[0].PlayerName)
	assert.True(t, finder.IsCompleted)
	assert.NotNil(t, finder.CompletedAt)

	found := f.load(t, b.ID)
	assert.Equal(t, 1, found.PeopleWhoKnowYou)
	assert.Equal(t, 0, found.Score)

	assert.Equal(t, 1, f.publisher.count(broadcast.EventMatchRecorded))
	assert.Equal(t, 1, f.publisher.count(broadcast.EventPlayerCompleted))
	assert.Equal(t, int64(1), f.notifier.calls.Load())
}

func TestConfirm_RepeatIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	ctx := context.Background()
	a := f.join(t, "A")
	b := f.join(t, "B")
	input := ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID}

	_, err := f.protocol.Confirm(ctx, input)
	require.NoError(t, err)
	again, err := f.protocol.Confirm(ctx, input)
	require.NoError(t, err)
	assert.False(t, again.Recorded)
	assert.True(t, again.AlreadyRecorded)
	assert.True(t, again.IsCompleted)

	finder := f.load(t, a.ID)
	assert.Equal(t, 100, finder.Score)
	assert.Len(t, finder.Matches, 1)
	assert.Equal(t, 1, f.load(t, b.ID).PeopleWhoKnowYou)
	assert.Equal(t, 1, f.publisher.count(broadcast.EventPlayerCompleted))
}

func TestConfirm_ConcurrentDuplicatesRecordOnce(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	a := f.join(t, "A")
	b := f.join(t, "B")
	f.join(t, "C")

	var recorded, already atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.protocol.Confirm(context.Background(), ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID})
			if !assert.NoError(t, err) {
				return
			}
			if result.Recorded {
				recorded.Add(1)
			}
			if result.AlreadyRecorded {
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), recorded.Load())
	assert.Equal(t, int64(9), already.Load())

	finder := f.load(t, a.ID)
	assert.Equal(t, 100, finder.Score)
	assert.Len(t, finder.Matches, 1)
	assert.False(t, finder.IsCompleted)
	assert.Equal(t, 1, f.load(t, b.ID).PeopleWhoKnowYou)
}

func TestConfirm_CompletionNeedsEveryone(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	ctx := context.Background()
	a := f.join(t, "A")
	b := f.join(t, "B")
	c := f.join(t, "C")

	first, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID})
	require.NoError(t, err)
	assert.False(t, first.IsCompleted)
	assert.Equal(t, 2, first.RequiredCount)

	second, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: c.ID})
	require.NoError(t, err)
	assert.True(t, second.IsCompleted)
	assert.Equal(t, 2, second.MatchCount)
	assert.Equal(t, 1, f.publisher.count(broadcast.EventPlayerCompleted))
}

func TestConfirm_ScoreTracksMatchesAndPenalties(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	ctx := context.Background()
	finder := f.join(t, "Finder")
	var others []*models.Player
	for _, name := range []string{"A", "B", "C", "D"} {
		others = append(others, f.join(t, name))
	}

	for _, o := range others[:3] {
		_, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: finder.ID, FoundID: o.ID})
		require.NoError(t, err)
	}
	var score int
	for i := 0; i < 2; i++ {
		var err error
		score, err = f.protocol.WrongGuess(ctx, "abc", finder.ID)
		require.NoError(t, err)
	}

	assert.Equal(t, 3*100-2*10, score)
	got := f.load(t, finder.ID)
	assert.Equal(t, score, got.Score)
	assert.Equal(t, 2, got.WrongGuesses)
	assert.Equal(t, 3, got.PeopleKnown)
}

func TestConfirm_FoundRewardIsConfigurable(t *testing.T) {
	f := newFixture(t, Rewards{Finder: 100, Found: 25, WrongGuessPenalty: 10})
	a := f.join(t, "A")
	b := f.join(t, "B")

	_, err := f.protocol.Confirm(context.Background(), ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID})
	require.NoError(t, err)
	assert.Equal(t, 25, f.load(t, b.ID).Score)
}

func TestConfirm_Rejections(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	ctx := context.Background()
	a := f.join(t, "A")
	b := f.join(t, "B")

	_, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: a.ID})
	assert.ErrorIs(t, err, ErrSelfMatch)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: uuid.New()})
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	_, err = f.protocol.Confirm(ctx, ConfirmInput{SessionID: "other", FinderID: a.ID, FoundID: b.ID})
	assert.ErrorIs(t, err, models.ErrNotFound)

	long := make([]byte, MaxProofLength+1)
	_, err = f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID, Proof: string(long)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.protocol.WrongGuess(ctx, "abc", uuid.New())
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	assert.Equal(t, 0, f.load(t, a.ID).Score)
	assert.Equal(t, 0, f.publisher.count(broadcast.EventMatchRecorded))
}

func TestConfirm_PlayerWithoutProfileCannotBeFound(t *testing.T) {
	f := newFixture(t, DefaultRewards())
	ctx := context.Background()
	a := f.join(t, "A")
	b := f.join(t, "B")
	c := f.joinWithoutProfile(t, "C")

	_, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: c.ID})
	assert.ErrorIs(t, err, ErrNoProfile)
	assert.ErrorIs(t, err, models.ErrStateConflict)

	finder := f.load(t, a.ID)
	assert.False(t, finder.IsCompleted)
	assert.Nil(t, finder.CompletedAt)
	assert.Equal(t, 0, finder.Score)
	assert.Empty(t, finder.Matches)
	assert.Equal(t, 0, f.load(t, c.ID).PeopleWhoKnowYou)

	// Completion still needs the one profiled player
	result, err := f.protocol.Confirm(ctx, ConfirmInput{SessionID: "abc", FinderID: a.ID, FoundID: b.ID})
	require.NoError(t, err)
	assert.True(t, result.IsCompleted)
	assert.Equal(t, 1, result.MatchCount)
	assert.Equal(t, 1, result.RequiredCount)
}
