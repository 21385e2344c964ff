package dma

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CIRISAI/CIRISAgent/internal/ciriserr"
)

// Cascade runs the two-pass evaluation described in spec §4.6: PDMA/CSDMA/
// DSDMA in parallel, feeding ASPDMA, guarded by conscience with recursive
// retry.
type Cascade struct {
	pdma, csdma, dsdma DMA
	aspdma             ASPDMA
	conscience         *Conscience

	dmaTimeout           time.Duration
	dmaRetryLimit        int
	conscienceRetryLimit int
}

// NewCascade wires the three DMAs, ASPDMA and conscience together with the
// retry budgets from spec §6 config.
func NewCascade(pdma, csdma, dsdma DMA, aspdma ASPDMA, conscience *Conscience, dmaTimeout time.Duration, dmaRetryLimit, conscienceRetryLimit int) *Cascade {
	return &Cascade{
		pdma: pdma, csdma: csdma, dsdma: dsdma,
		aspdma: aspdma, conscience: conscience,
		dmaTimeout: dmaTimeout, dmaRetryLimit: dmaRetryLimit, conscienceRetryLimit: conscienceRetryLimit,
	}
}

// Outcome is the terminal result of running one thought through the
// cascade: the final accepted (or forced) Selection, the verdict that
// accepted it, and how many recursive ASPDMA attempts it took.
type Outcome struct {
	Selection       Selection
	Verdict         Verdict
	ASPDMARetries   int
	PDMA, CSDMA, DSDMA Result
}

// Run evaluates one thought end to end (spec §4.6 Pass 1 + conscience +
// RECURSIVE_ASPDMA). A DMA that keeps failing after dmaRetryLimit attempts,
// or an ASPDMA that keeps producing malformed output, forces a DEFER
// Outcome rather than propagating an error — the top-level processor must
// never crash on a single thought failure (spec §7).
func (c *Cascade) Run(ctx context.Context, in EvaluationInput) Outcome {
	var pdmaRes, csdmaRes, dsdmaRes Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pdmaRes, err = c.runWithRetry(gctx, c.pdma, in)
		return err
	})
	g.Go(func() error {
		var err error
		csdmaRes, err = c.runWithRetry(gctx, c.csdma, in)
		return err
	})
	g.Go(func() error {
		var err error
		dsdmaRes, err = c.runWithRetry(gctx, c.dsdma, in)
		return err
	})
	if err := g.Wait(); err != nil {
		return c.forcedDefer(err.Error())
	}

	aspIn := ASPDMAInput{Content: in.Content, PDMA: pdmaRes, CSDMA: csdmaRes, DSDMA: dsdmaRes}

	for attempt := 0; ; attempt++ {
		sel, err := c.selectWithRetry(ctx, aspIn)
		if err != nil {
			out := c.forcedDefer("aspdma: " + err.Error())
			out.PDMA, out.CSDMA, out.DSDMA = pdmaRes, csdmaRes, dsdmaRes
			out.ASPDMARetries = attempt
			return out
		}

		verdict := c.conscience.Evaluate(ctx, sel, in)
		if verdict.Passed {
			return Outcome{Selection: sel, Verdict: verdict, ASPDMARetries: attempt, PDMA: pdmaRes, CSDMA: csdmaRes, DSDMA: dsdmaRes}
		}
		if verdict.ForcedAction != nil {
			forced := Selection{Action: *verdict.ForcedAction, Rationale: verdict.Reason}
			return Outcome{Selection: forced, Verdict: verdict, ASPDMARetries: attempt, PDMA: pdmaRes, CSDMA: csdmaRes, DSDMA: dsdmaRes}
		}
		if attempt >= c.conscienceRetryLimit {
			deferSel := Selection{Action: VerbDefer, Rationale: "conscience_retry_limit exhausted: " + verdict.Reason}
			return Outcome{Selection: deferSel, Verdict: verdict, ASPDMARetries: attempt, PDMA: pdmaRes, CSDMA: csdmaRes, DSDMA: dsdmaRes}
		}
		// RECURSIVE_ASPDMA: re-invoke with the original DMA results plus
		// the conscience feedback appended (spec §4.6), never PONDER.
		aspIn.ConscienceFeedback = append(aspIn.ConscienceFeedback, verdict.Reason)
	}
}

func (c *Cascade) forcedDefer(reason string) Outcome {
	return Outcome{
		Selection: Selection{Action: VerbDefer, Rationale: reason},
		Verdict:   Verdict{Passed: false, Reason: reason},
	}
}

// runWithRetry calls d.Evaluate up to dmaRetryLimit+1 times, timing out
// each attempt at dmaTimeout, returning an error only once the retry
// budget is exhausted (spec §4.6: "If any DMA fails repeatedly
// (DMA_RETRY_LIMIT, default 3), the thought is force-DEFERRED").
func (c *Cascade) runWithRetry(ctx context.Context, d DMA, in EvaluationInput) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= c.dmaRetryLimit; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, c.dmaTimeout)
		res, err := d.Evaluate(dctx, in)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return Result{}, ciriserr.New(ciriserr.KindTimeout, fmt.Sprintf("dma.%s", d.Kind()), lastErr)
}

func (c *Cascade) selectWithRetry(ctx context.Context, in ASPDMAInput) (Selection, error) {
	var lastErr error
	for attempt := 0; attempt <= c.dmaRetryLimit; attempt++ {
		actx, cancel := context.WithTimeout(ctx, c.dmaTimeout)
		sel, err := c.aspdma.SelectAction(actx, in)
		cancel()
		if err == nil {
			return sel, nil
		}
		lastErr = err
	}
	return Selection{}, ciriserr.New(ciriserr.KindTimeout, "aspdma.SelectAction", lastErr)
}
