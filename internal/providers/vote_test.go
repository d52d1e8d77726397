package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordanhubbard/wallbounce/internal/bounce"
)

func voteDesc() bounce.ProviderDescriptor {
	return bounce.ProviderDescriptor{
		Name: "gpt-5", Vendor: "openai", Model: "gpt-5",
		Transport:         bounce.TransportSDK,
		CostPerInputToken: 0.001, CostPerOutputToken: 0.002,
		SupportedTiers: []bounce.TaskTier{bounce.TierBasic},
	}
}

func TestFinishVoteSuccess(t *testing.T) {
	conf := 0.9
	v := FinishVote(context.Background(), VoteParams{
		Desc:        voteDesc(),
		Start:       time.Now().Add(-50 * time.Millisecond),
		PromptText:  "why is the db slow",
		Content:     "<think>hmm</think>Check the missing index on orders.user_id.",
		BackendConf: &conf,
		InTokens:    100,
		OutTokens:   50,
	})

	if v.Error != "" {
		t.Fatalf("unexpected error vote: %+v", v)
	}
	if v.Content != "Check the missing index on orders.user_id." {
		t.Fatalf("content not stripped: %q", v.Content)
	}
	if v.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want backend's 0.9", v.Confidence)
	}
	wantCost := 100*0.001 + 50*0.002
	if v.CostUSD != wantCost {
		t.Fatalf("cost = %v, want %v", v.CostUSD, wantCost)
	}
	if v.LatencyMs < 50 {
		t.Fatalf("latency = %dms, want >= 50", v.LatencyMs)
	}
}

func TestFinishVoteEstimatesTokensWhenUnreported(t *testing.T) {
	v := FinishVote(context.Background(), VoteParams{
		Desc:       voteDesc(),
		Start:      time.Now(),
		PromptText: "a prompt with several words in it",
		Content:    "an answer with several words as well",
	})
	if v.InputTokens == 0 || v.OutputTokens == 0 {
		t.Fatalf("tokens not estimated: in=%d out=%d", v.InputTokens, v.OutputTokens)
	}
	if v.CostUSD <= 0 {
		t.Fatalf("cost = %v, want > 0", v.CostUSD)
	}
}

func TestFinishVoteHeuristicConfidenceWhenBackendSilent(t *testing.T) {
	v := FinishVote(context.Background(), VoteParams{
		Desc:    voteDesc(),
		Start:   time.Now(),
		Content: "Raise the pool ceiling to 200 and watch replica lag for an hour afterwards.",
	})
	if v.Confidence != 0.8 {
		t.Fatalf("heuristic confidence = %v, want 0.8", v.Confidence)
	}
	if v.Reasoning != "confidence estimated from answer shape" {
		t.Fatalf("reasoning = %q", v.Reasoning)
	}
}

func TestFinishVoteClampsBackendConfidence(t *testing.T) {
	conf := 1.7
	v := FinishVote(context.Background(), VoteParams{
		Desc: voteDesc(), Start: time.Now(), Content: "x", BackendConf: &conf,
	})
	if v.Confidence != 1 {
		t.Fatalf("confidence = %v, want clamped to 1", v.Confidence)
	}
}

func TestFinishVoteErrorBecomesErrorVote(t *testing.T) {
	v := FinishVote(context.Background(), VoteParams{
		Desc:  voteDesc(),
		Start: time.Now(),
		Err:   &StatusError{StatusCode: 500, Body: "upstream exploded"},
	})
	if v.Error != bounce.KindProviderError {
		t.Fatalf("error kind = %s, want provider_error", v.Error)
	}
	if v.Confidence != 0 || v.Content != "" {
		t.Fatalf("error vote carries data: %+v", v)
	}
}

func TestFinishVoteDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	v := FinishVote(ctx, VoteParams{
		Desc:  voteDesc(),
		Start: time.Now(),
		Err:   context.DeadlineExceeded,
	})
	if v.Error != bounce.KindDeadlineExceeded {
		t.Fatalf("error kind = %s, want deadline_exceeded", v.Error)
	}
}

func TestFinishVoteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := FinishVote(ctx, VoteParams{
		Desc:  voteDesc(),
		Start: time.Now(),
		Err:   errors.New("request aborted"),
	})
	if v.Error != bounce.KindDeadlineExceeded {
		t.Fatalf("cancelled vote kind = %s, want deadline_exceeded", v.Error)
	}
	if v.ErrorDetail == "" {
		t.Fatal("cancelled vote should carry detail")
	}
}
