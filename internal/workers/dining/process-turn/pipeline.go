// internal/workers/dining/process-turn/pipeline.go
package processturn

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"
	"dinner-workers/internal/common/observability"
	"dinner-workers/internal/models"
	"dinner-workers/internal/session"
	enrichcandidates "dinner-workers/internal/workers/dining/enrich-candidates"
	parsediningintent "dinner-workers/internal/workers/dining/parse-dining-intent"
	rankcandidates "dinner-workers/internal/workers/dining/rank-candidates"
	searchbusinesses "dinner-workers/internal/workers/dining/search-businesses"
)

// Searcher is satisfied by *searchbusinesses.Client.
type Searcher interface {
	Search(ctx context.Context, q *models.QueryModel) (*searchbusinesses.Output, error)
}

// Enricher is satisfied by *enrichcandidates.Handler.
type Enricher interface {
	Execute(ctx context.Context, input *enrichcandidates.Input) (*enrichcandidates.Output, error)
}

// Pipeline runs one conversation turn end to end: extract, merge, search,
// rank, enrich. Turns of one session are serialized by the locker; a turn
// that is superseded while running is discarded without touching the store.
type Pipeline struct {
	config    *Config
	store     session.Store
	locker    *session.Locker
	extractor parsediningintent.IntentExtractor
	searcher  Searcher
	enricher  Enricher
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time
}

type Dependencies struct {
	Store     session.Store
	Locker    *session.Locker
	Extractor parsediningintent.IntentExtractor
	Searcher  Searcher
	Enricher  Enricher
	Obs       *observability.Observability
}

func NewPipeline(config *Config, deps Dependencies, log logger.Logger) *Pipeline {
	locker := deps.Locker
	if locker == nil {
		locker = session.NewLocker()
	}
	return &Pipeline{
		config:    config,
		store:     deps.Store,
		locker:    locker,
		extractor: deps.Extractor,
		searcher:  deps.Searcher,
		enricher:  deps.Enricher,
		obs:       deps.Obs,
		logger:    log,
		now:       time.Now,
	}
}

// ProcessTurn handles one user message for sessionID.
func (p *Pipeline) ProcessTurn(ctx context.Context, sessionID, userText string) (*models.Response, error) {
	start := p.now()
	resp, outcome, err := p.processTurn(ctx, sessionID, strings.TrimSpace(userText))

	metrics.TurnsProcessed.WithLabelValues(outcome).Inc()
	p.obs.RecordTurn(ctx, outcome)
	p.obs.RecordStage(ctx, "turn", time.Since(start), outcome)

	fields := map[string]interface{}{
		"sessionId":  sessionID,
		"outcome":    outcome,
		"durationMs": time.Since(start).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		p.logger.Warn("turn ended without results", fields)
		return nil, err
	}
	fields["candidates"] = len(resp.Candidates)
	fields["partial"] = resp.Partial
	p.logger.Info("turn processed", fields)
	return resp, nil
}

func (p *Pipeline) processTurn(ctx context.Context, sessionID, text string) (*models.Response, string, error) {
	if sessionID == "" {
		return nil, outcomeFailed, errors.NewInvalidInputError("session id is required")
	}
	if text == "" {
		return nil, outcomeFailed, errors.NewInvalidInputError("message is required")
	}

	turn, err := p.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, outcomeOf(err), err
	}
	defer turn.Release()
	tctx := turn.Context()

	sess, err := p.loadSession(tctx, sessionID)
	if err != nil {
		return nil, outcomeFailed, err
	}
	sess.AppendHistory(models.RoleUser, text, p.config.MaxHistory)

	var result *parsediningintent.Result
	err = p.stage(tctx, "extract", func(ctx context.Context) error {
		var e error
		result, e = p.extractor.Extract(ctx, sess.History)
		return e
	})
	if err != nil {
		outcome, ferr := p.failure(turn, sessionID, err)
		return nil, outcome, ferr
	}

	if result.IsClarification() {
		sess.ApplyTurn(nil, p.now())
		return p.clarify(tctx, turn, sess, result.Reply)
	}

	sess.ApplyTurn(result.Query, p.now())

	var warnings []string
	if !sess.AccumulatedQuery.HasLocation() {
		if p.config.DefaultLocation == "" {
			return p.clarify(tctx, turn, sess, joinReply(result.Reply, "Which area should I search in?"))
		}
		sess.AccumulatedQuery.Location = &models.Location{Address: p.config.DefaultLocation}
		warnings = append(warnings, fmt.Sprintf("no location given, searching near %s", p.config.DefaultLocation))
	}

	q, err := models.ValidateQuery(sess.AccumulatedQuery.ToMap(), true)
	if err != nil {
		var vErr *errors.ValidationError
		if stderrors.As(err, &vErr) {
			return p.clarify(tctx, turn, sess, joinReply(result.Reply, fmt.Sprintf("Could you clarify the %s? It %s.", strings.ReplaceAll(vErr.Field, "_", " "), vErr.Reason)))
		}
		return nil, outcomeFailed, err
	}

	var found *searchbusinesses.Output
	err = p.stage(tctx, "search", func(ctx context.Context) error {
		var e error
		found, e = p.searcher.Search(ctx, q)
		return e
	})
	if err != nil {
		outcome, ferr := p.failure(turn, sessionID, err)
		return nil, outcome, ferr
	}
	warnings = append(warnings, found.Warnings...)

	rankStart := time.Now()
	ranked := rankcandidates.Rank(found.Candidates, rankcandidates.WithRatingFloor(q, p.config.DefaultMinRating), sess.ShownSet(), p.config.Weights)
	limit := p.config.MaxResults
	if q.Limit != nil {
		limit = *q.Limit
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	p.obs.RecordStage(tctx, "rank", time.Since(rankStart), "ok")
	p.obs.RecordCandidates(tctx, len(ranked))

	var enriched *enrichcandidates.Output
	err = p.stage(tctx, "enrich", func(ctx context.Context) error {
		var e error
		enriched, e = p.enricher.Execute(ctx, &enrichcandidates.Input{Candidates: ranked, K: p.config.EnrichK})
		return e
	})
	if err != nil {
		outcome, ferr := p.failure(turn, sessionID, err)
		return nil, outcome, ferr
	}

	if turn.Superseded() || tctx.Err() != nil {
		outcome, ferr := p.failure(turn, sessionID, tctx.Err())
		return nil, outcome, ferr
	}

	ids := make([]string, len(enriched.Candidates))
	for i, c := range enriched.Candidates {
		ids[i] = c.ID
	}
	sess.MarkShown(ids...)

	reply := strings.TrimSpace(result.Reply)
	if reply == "" {
		reply = resultsReply(len(enriched.Candidates))
	}
	sess.AppendHistory(models.RoleAssistant, reply, p.config.MaxHistory)

	if err := p.save(tctx, turn, sess); err != nil {
		outcome, ferr := p.failure(turn, sessionID, err)
		return nil, outcome, ferr
	}

	if warnings == nil {
		warnings = []string{}
	}
	return &models.Response{
		SessionID:  sess.SessionID,
		Reply:      reply,
		Query:      q,
		Candidates: enriched.Candidates,
		Partial:    found.Partial,
		Warnings:   warnings,
		TurnCount:  sess.TurnCount,
	}, outcomeResults, nil
}

func (p *Pipeline) clarify(ctx context.Context, turn *session.Turn, sess *models.SessionContext, question string) (*models.Response, string, error) {
	sess.RecordClarification(p.now())
	sess.AppendHistory(models.RoleAssistant, question, p.config.MaxHistory)

	if err := p.save(ctx, turn, sess); err != nil {
		outcome, ferr := p.failure(turn, sess.SessionID, err)
		return nil, outcome, ferr
	}
	return &models.Response{
		SessionID:     sess.SessionID,
		Reply:         question,
		Clarification: question,
		Query:         sess.AccumulatedQuery,
		Candidates:    []models.RankedCandidate{},
		Warnings:      []string{},
		TurnCount:     sess.TurnCount,
	}, outcomeClarification, nil
}

func (p *Pipeline) loadSession(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	sess, err := p.store.Get(ctx, sessionID)
	if stderrors.Is(err, session.ErrNotFound) {
		return models.NewSessionContext(sessionID, p.now()), nil
	}
	if err != nil {
		return nil, errors.NewSessionStoreError("get", err)
	}
	return sess, nil
}

// save refuses to write state for a turn that a newer message replaced.
func (p *Pipeline) save(ctx context.Context, turn *session.Turn, sess *models.SessionContext) error {
	if turn.Superseded() || ctx.Err() != nil {
		return errors.NewTurnSupersededError(sess.SessionID)
	}
	if err := p.store.Save(ctx, sess); err != nil {
		return errors.NewSessionStoreError("save", err)
	}
	return nil
}

// failure maps an error to its outcome. Any error seen by a superseded turn
// is reported as TURN_SUPERSEDED.
func (p *Pipeline) failure(turn *session.Turn, sessionID string, err error) (string, error) {
	if turn.Superseded() {
		return outcomeSuperseded, errors.NewTurnSupersededError(sessionID)
	}
	if err == nil {
		err = errors.NewInternalError(fmt.Errorf("turn aborted"))
	}
	return outcomeOf(err), err
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = string(errors.CodeOf(err))
	}
	p.obs.RecordStage(ctx, name, time.Since(start), status)
	return err
}

func outcomeOf(err error) string {
	if stderrors.Is(err, errors.ErrTurnSuperseded) {
		return outcomeSuperseded
	}
	return outcomeFailed
}

func joinReply(reply, question string) string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return question
	}
	return reply + " " + question
}

func resultsReply(n int) string {
	switch n {
	case 0:
		return "I couldn't find any places matching that. Want to loosen the filters?"
	case 1:
		return "Here is one place that fits."
	default:
		return fmt.Sprintf("Here are %d places that fit.", n)
	}
}
