package channel

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/keller/swarmd/internal/filelock"
	"github.com/keller/swarmd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func proposalEnv(sender, title string) models.Envelope {
	return NewProposalEnvelope(sender, models.Proposal{
		ID:        "prop-" + title,
		Title:     title,
		Proposer:  sender,
		Status:    models.ProposalOpen,
		CreatedAt: time.Now(),
	})
}

func TestMemoryChannel_BroadcastPoll(t *testing.T) {
	mc := NewMemoryChannel()

	require.NoError(t, mc.Broadcast(proposalEnv("node-a", "first")))
	require.NoError(t, mc.Broadcast(proposalEnv("node-a", "second")))

	batch, cursor, err := mc.Poll(0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "first", batch[0].Proposal.Title)
	assert.Equal(t, "second", batch[1].Proposal.Title)

	// Nothing new after the cursor
	batch, cursor2, err := mc.Poll(cursor)
	require.NoError(t, err)
	assert.Empty(t, batch)
	assert.Equal(t, cursor, cursor2)

	// New message visible from the old cursor
	require.NoError(t, mc.Broadcast(proposalEnv("node-b", "third")))
	batch, _, err = mc.Poll(cursor)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "third", batch[0].Proposal.Title)
}

func TestMemoryChannel_RejectsMalformed(t *testing.T) {
	mc := NewMemoryChannel()

	err := mc.Broadcast(models.Envelope{ID: "msg-1", Kind: models.KindVote, Sender: "node-a"})
	require.Error(t, err)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryChannel_FullHistoryFromZero(t *testing.T) {
	mc := NewMemoryChannel()
	for i := 0; i < 5; i++ {
		require.NoError(t, mc.Broadcast(NewHeartbeatEnvelope("agent-1")))
	}

	// A consumer joining late still sees the full history.
	batch, _, err := mc.Poll(0)
	require.NoError(t, err)
	assert.Len(t, batch, 5)
}

func TestFileChannel_BroadcastPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	fc, err := NewFileChannel(path, 0)
	require.NoError(t, err)
	defer fc.Close()

	require.NoError(t, fc.Broadcast(proposalEnv("node-a", "first")))
	vote := models.Vote{ProposalID: "prop-first", Voter: "node-b", Approve: true, Confidence: 0.8, CastAt: time.Now()}
	require.NoError(t, fc.Broadcast(NewVoteEnvelope("node-b", vote)))

	batch, cursor, err := fc.Poll(0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, models.KindProposal, batch[0].Kind)
	assert.Equal(t, models.KindVote, batch[1].Kind)
	assert.Equal(t, 0.8, batch[1].Vote.Confidence)

	batch, _, err = fc.Poll(cursor)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestFileChannel_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	writer, err := NewFileChannel(path, 0)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewFileChannel(path, 0)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Broadcast(proposalEnv("node-a", "shared")))

	batch, _, err := reader.Poll(0)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "shared", batch[0].Proposal.Title)
}

func TestFileChannel_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	fc, err := NewFileChannel(path, 0)
	require.NoError(t, err)
	defer fc.Close()

	require.NoError(t, fc.Broadcast(proposalEnv("node-a", "good")))
	require.NoError(t, filelock.AppendLine(path, []byte("{not json")))
	require.NoError(t, filelock.AppendLine(path, []byte(`{"id":"x","kind":"gossip","sender":"node-z"}`)))
	require.NoError(t, fc.Broadcast(proposalEnv("node-a", "also-good")))

	batch, cursor, err := fc.Poll(0)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, 2, fc.Dropped())

	// Cursor accounts for raw lines, corrupt ones included.
	assert.Equal(t, Cursor(4), cursor)
}

func TestFileChannel_PollWaitWakesOnBroadcast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	fc, err := NewFileChannel(path, 5*time.Second)
	require.NoError(t, err)
	defer fc.Close()

	type pollResult struct {
		batch []models.Envelope
		err   error
	}
	results := make(chan pollResult, 1)
	go func() {
		batch, _, err := fc.Poll(0)
		results <- pollResult{batch, err}
	}()

	// Give the poller a moment to block, then publish.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, fc.Broadcast(NewHeartbeatEnvelope("agent-1")))

	select {
	case res := <-results:
		require.NoError(t, res.err)
		assert.Len(t, res.batch, 1)
	case <-time.After(4 * time.Second):
		t.Fatal("Poll did not wake after broadcast")
	}
}

func TestEnvelopeConstructors(t *testing.T) {
	env := NewHeartbeatEnvelope("agent-7")
	require.NoError(t, env.Validate())
	assert.Equal(t, "agent-7", env.Sender)
	assert.Equal(t, "agent-7", env.Heartbeat.AgentID)

	report := models.TaskReport{TaskID: "task-1", AgentID: "agent-7", Success: true}
	env = NewTaskReportEnvelope("agent-7", report)
	require.NoError(t, env.Validate())
	assert.NotEmpty(t, env.ID)
}
