// ABOUTME: Tests for the conversation controller
// ABOUTME: Verifies pair appends, failure isolation, owner scoping, replay rejection and detached cancellation

package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pdfchat-gateway/internal/dedupe"
	"github.com/2389/pdfchat-gateway/internal/metrics"
	"github.com/2389/pdfchat-gateway/internal/store"
)

const refundDoc = "Policy doc about refunds."

func countThreads(t *testing.T, st testStore, ownerID string) int {
	t.Helper()
	threads, err := st.ListThreads(context.Background(), ownerID, store.ListThreadsOptions{})
	require.NoError(t, err)
	return len(threads)
}

func TestService_Ask_NewThread(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		p := &scriptedProvider{answer: "30 days."}
		svc := New(st, p, Options{}, nil)

		res, err := svc.Ask(context.Background(), &AskRequest{
			OwnerID:      "user-1",
			DocumentText: refundDoc,
			Question:     "What is the refund window?",
		})
		require.NoError(t, err)

		assert.Equal(t, "30 days.", res.Answer)
		assert.NotEmpty(t, res.ThreadID)
		assert.Equal(t, 2, res.TurnCount)

		thread, err := svc.GetThread(context.Background(), "user-1", res.ThreadID)
		require.NoError(t, err)
		require.Len(t, thread.Turns, 2)
		assert.Equal(t, store.RoleUser, thread.Turns[0].Role)
		assert.Equal(t, "What is the refund window?", thread.Turns[0].Content)
		assert.Equal(t, store.RoleAssistant, thread.Turns[1].Role)
		assert.Equal(t, "30 days.", thread.Turns[1].Content)

		assert.Equal(t,
			"PDF Content: Policy doc about refunds.\n\nQuestion: What is the refund window?\nAnswer concisely.",
			p.lastPrompt())
	})
}

func TestService_Ask_SecondQuestionReusesThread(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		first, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "What is the refund window?"})
		require.NoError(t, err)

		second, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "Who approves refunds?"})
		require.NoError(t, err)

		assert.Equal(t, first.ThreadID, second.ThreadID)
		assert.Equal(t, 4, second.TurnCount)
		assert.Equal(t, 1, countThreads(t, st, "user-1"))
	})
}

func TestService_Ask_EmptyQuestion(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		p := &scriptedProvider{answer: "never"}
		svc := New(st, p, Options{}, nil)

		_, err := svc.Ask(context.Background(), &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: ""})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Equal(t, CodeValidation, Code(err))

		assert.Equal(t, 0, countThreads(t, st, "user-1"), "no thread is created for an invalid question")
		assert.Equal(t, int32(0), p.calls.Load())
	})
}

func TestService_Ask_ValidationErrors(t *testing.T) {
	svc := New(store.NewMockStore(), &scriptedProvider{answer: "x"}, Options{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *AskRequest
	}{
		{"missing owner", &AskRequest{DocumentText: "doc", Question: "q"}},
		{"whitespace question", &AskRequest{OwnerID: "u", DocumentText: "doc", Question: " \n\t"}},
		{"missing document", &AskRequest{OwnerID: "u", Question: "q"}},
		{"blank document text", &AskRequest{OwnerID: "u", DocumentText: "   ", Question: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ask(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestService_Ask_ProviderFailureLeavesThreadUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		p := &scriptedProvider{answer: "first answer"}
		svc := New(st, p, Options{}, nil)
		ctx := context.Background()

		first, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q1"})
		require.NoError(t, err)

		p.setErr(errProviderDown)
		_, err = svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q2"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrProvider)
		assert.Equal(t, CodeProvider, Code(err))

		thread, err := svc.GetThread(ctx, "user-1", first.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, 2, thread.TurnCount)
		assert.Len(t, thread.Turns, 2)

		// The same question can be resubmitted once the provider recovers
		p.setErr(nil)
		again, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q2"})
		require.NoError(t, err)
		assert.Equal(t, 4, again.TurnCount)
	})
}

func TestService_Ask_IdenticalTextDifferentOwners(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		a, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-a", DocumentText: refundDoc, Question: "q"})
		require.NoError(t, err)
		b, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-b", DocumentText: refundDoc, Question: "q"})
		require.NoError(t, err)

		assert.NotEqual(t, a.ThreadID, b.ThreadID)
		assert.Equal(t, 2, a.TurnCount)
		assert.Equal(t, 2, b.TurnCount)
	})
}

func TestService_Ask_AppendFailureIsStorageError(t *testing.T) {
	st := store.NewMockStore()
	st.FailOn("append", assert.AnError)
	svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)

	_, err := svc.Ask(context.Background(), &AskRequest{OwnerID: "u", DocumentText: "doc", Question: "q"})
	assert.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, CodeStorage, Code(err))
}

func TestService_Ask_RetryAfterAppendFailureAddsOneExchange(t *testing.T) {
	st := store.NewMockStore()
	guard := dedupe.New(time.Minute, 100)
	svc := New(st, &scriptedProvider{answer: "ok"}, Options{Replay: guard}, nil)
	ctx := context.Background()
	req := &AskRequest{OwnerID: "u", DocumentText: "doc", Question: "q", RequestID: "req-1"}

	st.FailOn("append", assert.AnError)
	_, err := svc.Ask(ctx, req)
	require.ErrorIs(t, err, ErrStorage)

	// The reported failure wrote nothing, so the released request id is safe to reuse
	threads, err := svc.ListThreads(ctx, "u", store.ListThreadsOptions{})
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, 0, threads[0].TurnCount)

	st.FailOn("append", nil)
	res, err := svc.Ask(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TurnCount)
}

func TestService_Ask_ConcurrentAsksKeepPairsIntact(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "answer"}, Options{}, nil)
		ctx := context.Background()

		const n = 10
		var wg sync.WaitGroup
		errs := make([]error, n)
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := svc.Ask(ctx, &AskRequest{
					OwnerID:      "user-1",
					DocumentText: refundDoc,
					Question:     fmt.Sprintf("question %d", i),
				})
				errs[i] = err
				if err == nil {
					ids[i] = res.ThreadID
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i], "all asks land in one thread")
		}

		thread, err := svc.GetThread(ctx, "user-1", ids[0])
		require.NoError(t, err)
		require.Len(t, thread.Turns, 2*n)
		for i, turn := range thread.Turns {
			assert.Equal(t, i, turn.Seq)
			if i%2 == 0 {
				assert.Equal(t, store.RoleUser, turn.Role)
			} else {
				assert.Equal(t, store.RoleAssistant, turn.Role)
			}
		}
	})
}

func TestService_Ask_SurvivesCallerCancellation(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		p := &scriptedProvider{answer: "slow answer", gate: make(chan struct{})}
		svc := New(st, p, Options{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan *AskResult, 1)
		go func() {
			res, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q"})
			assert.NoError(t, err)
			done <- res
		}()

		// Client disconnects while the provider is still working
		require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		close(p.gate)

		select {
		case res := <-done:
			require.NotNil(t, res)
			assert.Equal(t, 2, res.TurnCount)
		case <-time.After(5 * time.Second):
			t.Fatal("ask did not complete after caller cancellation")
		}
	})
}

func TestService_Ask_ReplayRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		guard := dedupe.New(time.Minute, 100)
		m := metrics.New()
		p := &scriptedProvider{answer: "ok"}
		svc := New(st, p, Options{Replay: guard, Metrics: m}, nil)
		ctx := context.Background()

		req := &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q", RequestID: "req-1"}
		first, err := svc.Ask(ctx, req)
		require.NoError(t, err)

		_, err = svc.Ask(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateRequest)
		assert.Equal(t, CodeDuplicateRequest, Code(err))

		thread, err := svc.GetThread(ctx, "user-1", first.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, 2, thread.TurnCount, "replay must not add a second exchange")
	})
}

func TestService_Ask_FailedAskReleasesRequestID(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		guard := dedupe.New(time.Minute, 100)
		p := &scriptedProvider{answer: "ok", err: errProviderDown}
		svc := New(st, p, Options{Replay: guard}, nil)
		ctx := context.Background()

		req := &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q", RequestID: "req-1"}
		_, err := svc.Ask(ctx, req)
		require.ErrorIs(t, err, ErrProvider)
		assert.Equal(t, 0, guard.Len(), "failed ask must give its request id back")

		p.setErr(nil)
		res, err := svc.Ask(ctx, req)
		require.NoError(t, err, "retry with the same request id after a failure is allowed")
		assert.Equal(t, "ok", res.Answer)
		assert.Equal(t, 2, res.TurnCount)

		_, err = svc.Ask(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateRequest, "a successful ask keeps its claim")
	})
}

func TestService_Ask_ByDocumentID(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		doc, err := svc.SaveDocument(ctx, "user-1", refundDoc)
		require.NoError(t, err)

		byID, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentID: doc.ID, Question: "q1"})
		require.NoError(t, err)

		// The same text sent inline resumes the same thread
		byText, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q2"})
		require.NoError(t, err)
		assert.Equal(t, byID.ThreadID, byText.ThreadID)
		assert.Equal(t, 4, byText.TurnCount)

		thread, err := svc.GetThread(ctx, "user-1", byID.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, thread.DocumentID)

		// Another owner cannot use the document id
		_, err = svc.Ask(ctx, &AskRequest{OwnerID: "user-2", DocumentID: doc.ID, Question: "q"})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, CodeNotFound, Code(err))
	})
}

func TestService_GetThread_OwnerScoped(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		res, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q"})
		require.NoError(t, err)

		_, err = svc.GetThread(ctx, "user-2", res.ThreadID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = svc.GetThread(ctx, "user-1", "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestService_ListThreads(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		first, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: "doc one", Question: "q"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		second, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: "doc two", Question: "q"})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
		_, err = svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: "doc one", Question: "again"})
		require.NoError(t, err)

		threads, err := svc.ListThreads(ctx, "user-1", store.ListThreadsOptions{WithTurns: true})
		require.NoError(t, err)
		require.Len(t, threads, 2)
		assert.Equal(t, second.ThreadID, threads[0].ID, "newest thread first")
		assert.Len(t, threads[1].Turns, 4)

		threads, err = svc.ListThreads(ctx, "user-1", store.ListThreadsOptions{ByActivity: true})
		require.NoError(t, err)
		assert.Equal(t, first.ThreadID, threads[0].ID, "most recently active first")

		_, err = svc.ListThreads(ctx, "", store.ListThreadsOptions{})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestService_RecordsUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		res, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q"})
		require.NoError(t, err)

		usages, err := st.GetThreadUsage(ctx, res.ThreadID)
		require.NoError(t, err)
		require.Len(t, usages, 1)
		assert.Equal(t, int64(10), usages[0].InputTokens)

		stats, err := svc.Usage(ctx, "user-1", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(13), stats.TotalTokens)

		future := time.Now().Add(time.Hour)
		stats, err = svc.Usage(ctx, "user-1", &future, nil)
		require.NoError(t, err)
		assert.Zero(t, stats.RequestCount)

		past := time.Now().Add(-time.Hour)
		_, err = svc.Usage(ctx, "user-1", &future, &past)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestService_ThreadUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)
		ctx := context.Background()

		first, err := svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q1"})
		require.NoError(t, err)
		_, err = svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: refundDoc, Question: "q2"})
		require.NoError(t, err)
		_, err = svc.Ask(ctx, &AskRequest{OwnerID: "user-1", DocumentText: "another doc", Question: "q"})
		require.NoError(t, err)

		stats, err := svc.ThreadUsage(ctx, "user-1", first.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.RequestCount)
		assert.Equal(t, int64(26), stats.TotalTokens)

		_, err = svc.ThreadUsage(ctx, "user-2", first.ThreadID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Equal(t, CodeNotFound, Code(err))
	})
}

func TestService_UsageFailureDoesNotFailAsk(t *testing.T) {
	st := store.NewMockStore()
	st.FailOn("save_usage", assert.AnError)
	svc := New(st, &scriptedProvider{answer: "ok"}, Options{}, nil)

	res, err := svc.Ask(context.Background(), &AskRequest{OwnerID: "u", DocumentText: "doc", Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TurnCount)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, CodeInternal, Code(assert.AnError))
	assert.Equal(t, CodeValidation, Code(fmt.Errorf("wrapped: %w", ErrValidation)))
	assert.Equal(t, CodeNotFound, Code(fmt.Errorf("x: %w", store.ErrNotFound)))
	assert.Equal(t, CodeStorage, Code(fmt.Errorf("%w: appending turns: %w", ErrStorage, store.ErrNotFound)),
		"a storage failure that wraps not-found is still a storage failure")
}
