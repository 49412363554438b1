package memory

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/internal/metrics"
	"github.com/BaSui01/memchat/types"
)

// Coordinator fans one request out to the four memory tiers and folds the
// results into a snapshot. Tiers run concurrently under a shared per-tier
// timeout; a tier that fails or times out is reported degraded with its
// empty value, never an error. Aggregate always returns a fully shaped
// snapshot.
type Coordinator struct {
	window   *Window
	profiles *Profiles
	index    VectorIndex
	ledger   *Ledger
	cfg      config.MemoryConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewCoordinator wires the four tiers.
func NewCoordinator(
	window *Window,
	profiles *Profiles,
	index VectorIndex,
	ledger *Ledger,
	cfg config.MemoryConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		window:   window,
		profiles: profiles,
		index:    index,
		ledger:   ledger,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "coordinator")),
	}
}

// Window exposes the recency tier for persistence-side updates.
func (c *Coordinator) Window() *Window { return c.window }

// Profiles exposes the profile tier.
func (c *Coordinator) Profiles() *Profiles { return c.profiles }

// Index exposes the vector index for persistence-side inserts.
func (c *Coordinator) Index() VectorIndex { return c.index }

// Ledger exposes the feedback tier.
func (c *Coordinator) Ledger() *Ledger { return c.ledger }

// Aggregate queries all four tiers concurrently and returns the snapshot.
// queryEmbedding may be nil when the embed step failed upstream; the
// semantic tier then degrades to empty. The returned error group never
// propagates tier errors; the method has no error return on purpose.
func (c *Coordinator) Aggregate(ctx context.Context, userID, conversationID, query string, queryEmbedding []float32) types.MemorySnapshot {
	snapshot := types.EmptySnapshot()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, c.cfg.TierTimeout)
		defer cancel()

		turns, summary, err := c.window.Recent(tctx, conversationID, c.cfg.RecencyLimit)
		if err != nil {
			c.degrade("recency", err)
			snapshot.Recency = types.RecencyTier{Status: types.TierDegraded, Turns: []types.Turn{}}
			return nil
		}
		snapshot.Recency = types.RecencyTier{Status: types.TierOK, Turns: turns, Summary: summary}
		c.metrics.ObserveTier("recency", string(types.TierOK))
		return nil
	})

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, c.cfg.TierTimeout)
		defer cancel()

		profile, err := c.profiles.Get(tctx, userID)
		if err != nil {
			c.degrade("profile", err)
			snapshot.Profile = types.ProfileTier{Status: types.TierDegraded, Profile: types.DefaultProfile()}
			return nil
		}
		snapshot.Profile = types.ProfileTier{Status: types.TierOK, Profile: profile}
		c.metrics.ObserveTier("profile", string(types.TierOK))
		return nil
	})

	g.Go(func() error {
		if queryEmbedding == nil {
			c.degrade("semantic", errEmbeddingUnavailable)
			snapshot.Semantic = types.SemanticTier{Status: types.TierDegraded, Matches: []types.SemanticMatch{}}
			return nil
		}
		tctx, cancel := context.WithTimeout(gctx, c.cfg.TierTimeout)
		defer cancel()

		matches, err := c.index.Query(tctx, userID, queryEmbedding, c.cfg.SemanticTopK, float32(c.cfg.SemanticThreshold))
		if err != nil {
			c.degrade("semantic", err)
			snapshot.Semantic = types.SemanticTier{Status: types.TierDegraded, Matches: []types.SemanticMatch{}}
			return nil
		}
		snapshot.Semantic = types.SemanticTier{Status: types.TierOK, Matches: matches}
		c.metrics.ObserveTier("semantic", string(types.TierOK))
		return nil
	})

	g.Go(func() error {
		tctx, cancel := context.WithTimeout(gctx, c.cfg.TierTimeout)
		defer cancel()

		corrections, err := c.ledger.Retrieve(tctx, userID, query)
		if err != nil {
			c.degrade("feedback", err)
			snapshot.Feedback = types.FeedbackTier{Status: types.TierDegraded, Corrections: []types.ScoredCorrection{}}
			return nil
		}
		snapshot.Feedback = types.FeedbackTier{Status: types.TierOK, Corrections: corrections}
		c.metrics.ObserveTier("feedback", string(types.TierOK))
		return nil
	})

	// Goroutines only ever return nil; Wait is for joining.
	_ = g.Wait()
	return snapshot
}

func (c *Coordinator) degrade(tier string, err error) {
	c.logger.Warn("memory tier degraded",
		zap.String("tier", tier),
		zap.Error(err))
	c.metrics.ObserveTier(tier, string(types.TierDegraded))
}

// errEmbeddingUnavailable marks a semantic query skipped because no query
// embedding was produced.
var errEmbeddingUnavailable = types.NewError(types.ErrEmbedding, "query embedding unavailable")
