package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abbot/internal/adapters/llm"
	"abbot/internal/repository/memory"
	"abbot/internal/services/ledger"
	"abbot/internal/services/meter"
	"abbot/internal/services/oracle"
	"abbot/pkg/errors"
)

type staticSource struct{}

func (staticSource) Name() string { return "static" }

func (staticSource) SatsPerUSD(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

// fakeCompleter replays a scripted completion and records the messages it saw
type fakeCompleter struct {
	mu         sync.Mutex
	completion llm.Completion
	err        error
	seen       [][]llm.Message
}

func (f *fakeCompleter) Provider() string { return "fake" }
func (f *fakeCompleter) Model() string    { return "fake-1" }

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, messages)
	if f.err != nil {
		return nil, f.err
	}
	c := f.completion
	return &c, nil
}

func newTestChat(t *testing.T, completer *fakeCompleter, initialBalance int64, cfg Config) (*Service, *ledger.Service) {
	t.Helper()

	ledgerSvc := ledger.NewService(memory.NewBalanceRepository())
	if initialBalance > 0 {
		_, err := ledgerSvc.Credit(context.Background(), "conv-1", initialBalance)
		require.NoError(t, err)
	}

	oracleSvc := oracle.NewService(staticSource{}, oracle.Config{})
	meterSvc := meter.NewService(ledgerSvc, oracleSvc, nil, nil, meter.Config{
		InputUSDPer1K:  decimal.RequireFromString("0.0025"),
		OutputUSDPer1K: decimal.RequireFromString("0.01"),
	})

	return NewService(completer, ledgerSvc, meterSvc, cfg), ledgerSvc
}

func TestRespond_ZeroBalanceRefusedBeforeCompletion(t *testing.T) {
	completer := &fakeCompleter{}
	svc, _ := newTestChat(t, completer, 0, Config{})

	reply, err := svc.Respond(context.Background(), "conv-1", 42, "hello")
	require.NoError(t, err)

	assert.True(t, reply.OutOfFunds)
	assert.Empty(t, reply.Text)
	assert.Empty(t, completer.seen, "a refused turn must never reach the provider")
}

func TestRespond_PositiveBalanceAnswersAndDebits(t *testing.T) {
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "hi there",
		PromptTokens:     2000,
		CompletionTokens: 1000,
	}}
	svc, ledgerSvc := newTestChat(t, completer, 10_000, Config{})

	reply, err := svc.Respond(context.Background(), "conv-1", 42, "hello")
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply.Text)
	assert.False(t, reply.OutOfFunds)
	// 1000 sats/USD: 2000 in + 1000 out = $0.015 = 15 sats
	assert.Equal(t, int64(9985), reply.RemainingSats)

	balance, err := ledgerSvc.Balance(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(9985), balance)
}

func TestRespond_DebitEmptyingBalanceFlagsOutOfFunds(t *testing.T) {
	// The floor debit of 50 sats exactly drains the balance. The reply is
	// still delivered; only the next turn will be refused.
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "last words",
		PromptTokens:     1,
		CompletionTokens: 1,
	}}
	svc, _ := newTestChat(t, completer, 50, Config{})

	reply, err := svc.Respond(context.Background(), "conv-1", 42, "hello")
	require.NoError(t, err)

	assert.Equal(t, "last words", reply.Text)
	assert.True(t, reply.OutOfFunds)
	assert.Equal(t, int64(0), reply.RemainingSats)

	next, err := svc.Respond(context.Background(), "conv-1", 42, "anyone there?")
	require.NoError(t, err)
	assert.True(t, next.OutOfFunds)
	assert.Empty(t, next.Text)
}

func TestRespond_CompletionErrorPropagates(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("provider down")}
	svc, ledgerSvc := newTestChat(t, completer, 1000, Config{})

	_, err := svc.Respond(context.Background(), "conv-1", 42, "hello")
	require.Error(t, err)

	balance, err := ledgerSvc.Balance(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance, "a failed completion must not be billed")
}

func TestRespond_SystemPromptAndHistoryReplayed(t *testing.T) {
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "answer",
		PromptTokens:     10,
		CompletionTokens: 10,
	}}
	svc, _ := newTestChat(t, completer, 100_000, Config{SystemPrompt: "be brief"})

	_, err := svc.Respond(context.Background(), "conv-1", 42, "first")
	require.NoError(t, err)
	_, err = svc.Respond(context.Background(), "conv-1", 42, "second")
	require.NoError(t, err)

	require.Len(t, completer.seen, 2)

	first := completer.seen[0]
	require.Len(t, first, 2)
	assert.Equal(t, llm.RoleSystem, first[0].Role)
	assert.Equal(t, "be brief", first[0].Content)
	assert.Equal(t, "first", first[1].Content)

	second := completer.seen[1]
	require.Len(t, second, 4, "system prompt, prior turn pair, new message")
	assert.Equal(t, "first", second[1].Content)
	assert.Equal(t, "answer", second[2].Content)
	assert.Equal(t, llm.RoleAssistant, second[2].Role)
	assert.Equal(t, "second", second[3].Content)
}

func TestRespond_HistoryTrimmedToMax(t *testing.T) {
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "ok",
		PromptTokens:     10,
		CompletionTokens: 10,
	}}
	svc, _ := newTestChat(t, completer, 1_000_000, Config{MaxHistory: 4})

	for _, msg := range []string{"one", "two", "three", "four"} {
		_, err := svc.Respond(context.Background(), "conv-1", 42, msg)
		require.NoError(t, err)
	}

	// Three prior turns stored six messages; only the last four survive
	last := completer.seen[len(completer.seen)-1]
	require.Len(t, last, 5, "4 history messages plus the new one")
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "three", last[2].Content)
	assert.Equal(t, "four", last[4].Content)
}

func TestReset_DropsHistory(t *testing.T) {
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "ok",
		PromptTokens:     10,
		CompletionTokens: 10,
	}}
	svc, _ := newTestChat(t, completer, 100_000, Config{})

	_, err := svc.Respond(context.Background(), "conv-1", 42, "remember this")
	require.NoError(t, err)

	svc.Reset("conv-1")

	_, err = svc.Respond(context.Background(), "conv-1", 42, "what did I say?")
	require.NoError(t, err)

	last := completer.seen[len(completer.seen)-1]
	require.Len(t, last, 1, "history must be empty after reset")
	assert.Equal(t, "what did I say?", last[0].Content)
}

func TestRespond_ConversationsAreIsolated(t *testing.T) {
	completer := &fakeCompleter{completion: llm.Completion{
		Text:             "ok",
		PromptTokens:     10,
		CompletionTokens: 10,
	}}
	svc, ledgerSvc := newTestChat(t, completer, 1000, Config{})

	// conv-2 never got funded
	reply, err := svc.Respond(context.Background(), "conv-2", 43, "hello")
	require.NoError(t, err)
	assert.True(t, reply.OutOfFunds)

	balance, err := ledgerSvc.Balance(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}
