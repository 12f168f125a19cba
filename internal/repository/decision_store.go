package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	pkgch "TradeCore/pkg/clickhouse"
	applogger "TradeCore/pkg/logger"
)

// CHDecisionStore archives consensus votes, sizing decisions, and closed
// exit plans in ClickHouse.
type CHDecisionStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewCHDecisionStore(ch *pkgch.Client, l *applogger.Logger) *CHDecisionStore {
	return &CHDecisionStore{ch: ch, db: ch.DB(), l: l}
}

// Schema returns idempotent DDL for the decision tables.
func Schema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.decision_votes (
			ts DateTime64(3),
			instrument LowCardinality(String),
			winning LowCardinality(String),
			confidence Float64,
			agreement Float64,
			participation Float64,
			total_votes UInt32,
			reasoning String
		) ENGINE = MergeTree() ORDER BY (instrument, ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.decision_sizing (
			ts DateTime64(3),
			instrument LowCardinality(String),
			regime LowCardinality(String),
			signal_strength Float64,
			signal_confidence Float64,
			kelly_size Float64,
			vol_target_size Float64,
			regime_size Float64,
			risk_adjusted_size Float64,
			signal_size Float64,
			final_size Float64,
			interval_low Float64,
			interval_high Float64,
			reasoning String
		) ENGINE = MergeTree() ORDER BY (instrument, ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.closed_plans (
			ts DateTime64(3),
			instrument LowCardinality(String),
			side LowCardinality(String),
			entry_price Float64,
			original_size Float64,
			total_exited Float64,
			realized_pnl Float64,
			levels String,
			created_at DateTime64(3)
		) ENGINE = MergeTree() ORDER BY (instrument, ts)`, database),
	}
}

func (s *CHDecisionStore) StoreVote(ctx context.Context, r *models.ConsensusResult) error {
	winning := ""
	if r.Winning != nil {
		winning = string(*r.Winning)
	}
	const q = `INSERT INTO decision_votes
		(ts, instrument, winning, confidence, agreement, participation, total_votes, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		r.Timestamp,
		r.Instrument,
		winning,
		r.Confidence,
		r.Agreement,
		r.Participation,
		uint32(r.TotalVotes),
		r.Reasoning,
	)
	if err != nil {
		s.l.Error("clickhouse store_vote error",
			applogger.String("instrument", r.Instrument),
			applogger.Error(err),
		)
		return fmt.Errorf("store vote: %w", err)
	}
	return nil
}

func (s *CHDecisionStore) StoreSizing(ctx context.Context, d *models.SizingDecision) error {
	const q = `INSERT INTO decision_sizing
		(ts, instrument, regime, signal_strength, signal_confidence,
		 kelly_size, vol_target_size, regime_size, risk_adjusted_size,
		 signal_size, final_size, interval_low, interval_high, reasoning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		d.Timestamp,
		d.Instrument,
		string(d.Regime),
		d.SignalStrength,
		d.SignalConfidence,
		d.KellySize,
		d.VolTargetSize,
		d.RegimeSize,
		d.RiskAdjustedSize,
		d.SignalSize,
		d.FinalSize,
		d.IntervalLow,
		d.IntervalHigh,
		d.Reasoning,
	)
	if err != nil {
		s.l.Error("clickhouse store_sizing error",
			applogger.String("instrument", d.Instrument),
			applogger.Error(err),
		)
		return fmt.Errorf("store sizing: %w", err)
	}
	return nil
}

func (s *CHDecisionStore) StoreClosedPlan(ctx context.Context, p *models.PositionExitPlan) error {
	levels, err := json.Marshal(p.Levels)
	if err != nil {
		return fmt.Errorf("marshal levels: %w", err)
	}
	const q = `INSERT INTO closed_plans
		(ts, instrument, side, entry_price, original_size, total_exited, realized_pnl, levels, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		time.Now(),
		p.Instrument,
		string(p.Side),
		p.EntryPrice,
		p.OriginalSize,
		p.TotalExited,
		p.RealizedPnL,
		string(levels),
		p.CreatedAt,
	)
	if err != nil {
		s.l.Error("clickhouse store_closed_plan error",
			applogger.String("instrument", p.Instrument),
			applogger.Error(err),
		)
		return fmt.Errorf("store closed plan: %w", err)
	}
	return nil
}

func (s *CHDecisionStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHDecisionStore) Close() error {
	return s.ch.Close()
}
