package moderation

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the escalation policy. Thresholds are configuration, not
// contract.
type Config struct {
	MuteDuration    time.Duration
	WarnsBeforeMute int
	MutesBeforeBan  int
	OffenseWindow   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MuteDuration <= 0 {
		c.MuteDuration = 300 * time.Second
	}
	if c.WarnsBeforeMute <= 0 {
		c.WarnsBeforeMute = 3
	}
	if c.MutesBeforeBan <= 0 {
		c.MutesBeforeBan = 2
	}
	if c.OffenseWindow <= 0 {
		c.OffenseWindow = 30 * time.Minute
	}
}

// Incident is the audit record produced for every non-clean verdict.
type Incident struct {
	Id       string
	RoomId   string
	UserId   string
	Action   Action
	Severity Severity
	Reason   string
	Message  string
	At       time.Time
}

// Pipeline evaluates one room's inbound messages. It is owned by the
// room actor and therefore needs no locking.
type Pipeline struct {
	scorers   []Scorer
	standings *standings
	cfg       Config
	log       *zap.Logger
}

func NewPipeline(log *zap.Logger, cfg Config, scorers ...Scorer) *Pipeline {
	cfg.applyDefaults()
	if len(scorers) == 0 {
		scorers = []Scorer{NewCrisisScorer(), NewToxicityScorer()}
	}
	return &Pipeline{
		scorers:   scorers,
		standings: newStandings(cfg.OffenseWindow),
		cfg:       cfg,
		log:       log,
	}
}

// Evaluate runs every scorer and combines signals by priority, not by
// averaging: any crisis signal escalates regardless of the rest, then
// the highest severity wins, with prior offenses escalating the action.
func (p *Pipeline) Evaluate(roomId, userId, text string, now time.Time) (Verdict, *Incident) {
	st := p.standings.get(userId)
	st.prune(now, p.cfg.OffenseWindow)

	if st.Banned() {
		return Verdict{Action: ActionBan, Severity: SeverityCritical, Reason: "user is banned"}, nil
	}
	if st.Muted(now) {
		return Verdict{Action: ActionMute, Severity: SeverityMedium, Reason: "user is muted",
			MuteDuration: st.mutedTill.Sub(now)}, nil
	}

	var crisis *Signal
	var worst *Signal
	for _, scorer := range p.scorers {
		sig, ok := scorer.Score(text)
		if !ok {
			continue
		}
		// Nonzero crisis confidence never resolves to none, however
		// low the score. Caution beats precision here.
		if sig.Crisis && sig.Confidence > 0 {
			if crisis == nil || sig.Severity > crisis.Severity {
				s := sig
				crisis = &s
			}
			continue
		}
		if worst == nil || sig.Severity > worst.Severity {
			s := sig
			worst = &s
		}
	}

	if crisis != nil {
		v := Verdict{
			Action:    ActionEscalateCrisis,
			Severity:  SeverityCritical,
			Reason:    crisis.Reason,
			Resources: CrisisResources,
		}
		return v, p.incident(roomId, userId, text, v, now)
	}

	if worst == nil {
		return Verdict{Action: ActionNone, Severity: SeverityLow}, nil
	}

	v := p.escalate(st, *worst, now)
	return v, p.incident(roomId, userId, text, v, now)
}

// escalate turns a signal into an action, folding in the user's recent
// standing: after WarnsBeforeMute accrued warns the next infraction
// mutes, after MutesBeforeBan accrued mutes the next infraction bans.
func (p *Pipeline) escalate(st *Standing, sig Signal, now time.Time) Verdict {
	if len(st.mutes) >= p.cfg.MutesBeforeBan {
		st.banned = true
		return Verdict{Action: ActionBan, Severity: SeverityCritical, Reason: sig.Reason}
	}

	if len(st.warns) >= p.cfg.WarnsBeforeMute || sig.Severity >= SeverityHigh {
		st.mutes = append(st.mutes, now)
		st.mutedTill = now.Add(p.cfg.MuteDuration)
		st.warns = nil
		return Verdict{
			Action:       ActionMute,
			Severity:     sig.Severity,
			Reason:       sig.Reason,
			MuteDuration: p.cfg.MuteDuration,
		}
	}

	st.warns = append(st.warns, now)
	return Verdict{Action: ActionWarn, Severity: sig.Severity, Reason: sig.Reason}
}

func (p *Pipeline) incident(roomId, userId, text string, v Verdict, now time.Time) *Incident {
	inc := &Incident{
		Id:       uuid.NewString(),
		RoomId:   roomId,
		UserId:   userId,
		Action:   v.Action,
		Severity: v.Severity,
		Reason:   v.Reason,
		Message:  text,
		At:       now,
	}
	p.log.Info("moderation verdict",
		zap.String("incident_id", inc.Id),
		zap.String("room_id", roomId),
		zap.String("user_id", userId),
		zap.String("action", string(v.Action)),
		zap.String("severity", v.Severity.String()),
	)
	return inc
}
