package waf

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Action is the outcome of a WAF evaluation.
type Action int

const (
	// ActionAllow admits the request.
	ActionAllow Action = iota

	// ActionBlock rejects the request.
	ActionBlock
)

// String returns the string representation of the action.
func (a Action) String() string {
	if a == ActionBlock {
		return "block"
	}
	return "allow"
}

// Input carries the request attributes the engine inspects.
type Input struct {
	ClientIP   string
	Method     string
	Path       string
	Query      string
	UserAgent  string
	BodyPrefix []byte
}

// Decision is the result of evaluating one request.
type Decision struct {
	Action Action

	// Category and Rule identify the decisive match on a block, or the
	// highest-weight match on an allow that still scored.
	Category string
	Rule     string

	// Score is this request's score; Cumulative is the window total.
	Score      int
	Cumulative int
}

// compiledRule pairs a rule with its compiled pattern.
type compiledRule struct {
	re       *regexp.Regexp
	pattern  string
	category string
	weight   int
}

// threatScore accumulates a client's score within the scoring window.
type threatScore struct {
	mu          sync.Mutex
	score       int
	windowStart time.Time
}

// Engine evaluates requests against the rule set and owns the ban list.
type Engine struct {
	config  *Config
	logger  *zap.Logger
	banList *BanList

	rulesMu sync.RWMutex
	rules   []compiledRule

	scores        sync.Map // client ip -> *threatScore
	eventLimiters sync.Map // client ip -> *rate.Limiter

	totalRequests   atomic.Uint64
	blockedRequests atomic.Uint64
	greyRequests    atomic.Uint64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// greyHandicap is the score added to requests from grey-listed clients.
const greyHandicap = 2

// Score weights for non-pattern checks.
const (
	weightBadMethod = 3
	weightOversize  = 5
	weightBadUA     = 4
)

// NewEngine creates a WAF engine from the configuration. The rule patterns
// must already have passed Config.Validate.
func NewEngine(config *Config, logger *zap.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:    config,
		logger:    logger,
		banList:   NewBanList(),
		stopSweep: make(chan struct{}),
	}
	e.rules = compileRules(config.Rules)

	go e.sweepLoop()

	return e, nil
}

func compileRules(rules []Rule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledRule{
			re:       re,
			pattern:  r.Pattern,
			category: r.Category,
			weight:   r.Weight,
		})
	}
	return compiled
}

// UpdateRules swaps the rule set at runtime. Invalid patterns are skipped.
func (e *Engine) UpdateRules(rules []Rule) {
	compiled := compileRules(rules)
	e.rulesMu.Lock()
	e.rules = compiled
	e.rulesMu.Unlock()
	e.logger.Info("waf rules updated", zap.Int("rules", len(compiled)))
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.banList.Sweep()
			e.sweepScores()
		case <-e.stopSweep:
			return
		}
	}
}

// sweepScores drops score entries whose window has long elapsed.
func (e *Engine) sweepScores() {
	now := time.Now()
	e.scores.Range(func(key, value interface{}) bool {
		ts := value.(*threatScore)
		ts.mu.Lock()
		stale := now.Sub(ts.windowStart) > 2*e.config.ScoreWindow
		ts.mu.Unlock()
		if stale {
			e.scores.Delete(key)
		}
		return true
	})
}

// Close stops the background sweeper. Safe to call multiple times.
func (e *Engine) Close() error {
	e.sweepOnce.Do(func() {
		close(e.stopSweep)
	})
	return nil
}

// Evaluate scores the request and returns the admission decision. Banned
// clients short-circuit before any scoring. Rejection decisions still add
// their weight to the client's threat score, so retries keep counting.
func (e *Engine) Evaluate(in Input) Decision {
	e.totalRequests.Add(1)

	// Ban check is the fast path; no pattern evaluation for banned clients.
	if e.banList.IsBanned(in.ClientIP) {
		e.blockedRequests.Add(1)
		metricDecision("block", "banned")
		return Decision{Action: ActionBlock, Category: "banned", Rule: "ban_list"}
	}

	score, category, ruleName := e.scoreRequest(in)

	cumulative := e.addToWindow(in.ClientIP, score)

	decision := Decision{
		Action:     ActionAllow,
		Category:   category,
		Rule:       ruleName,
		Score:      score,
		Cumulative: cumulative,
	}

	switch {
	case cumulative >= e.config.BanThreshold:
		e.banList.Ban(in.ClientIP, category, e.config.BanTTL)
		decision.Action = ActionBlock

	case score >= e.config.GreyThreshold:
		e.banList.MarkGrey(in.ClientIP, e.config.GreyTTL)
		e.greyRequests.Add(1)
	}

	if decision.Action == ActionBlock {
		if e.config.Mode == ModeShadow {
			// Shadow mode observes without enforcement.
			e.logEvent(in, decision, true)
			metricDecision("shadow_block", decision.Category)
			decision.Action = ActionAllow
			return decision
		}
		e.blockedRequests.Add(1)
		e.logEvent(in, decision, false)
		metricDecision("block", decision.Category)
		return decision
	}

	if score > 0 {
		e.logEvent(in, decision, false)
	}
	metricDecision("allow", decision.Category)
	return decision
}

// scoreRequest computes the per-request score and the decisive match.
func (e *Engine) scoreRequest(in Input) (score int, category, ruleName string) {
	topWeight := 0
	note := func(w int, cat, rule string) {
		score += w
		if w > topWeight {
			topWeight = w
			category = cat
			ruleName = rule
		}
	}

	if e.banList.IsGrey(in.ClientIP) {
		score += greyHandicap
	}

	if !e.config.IsMethodAllowed(in.Method) {
		note(weightBadMethod, CategoryGeneric, "bad_method")
	}

	if len(in.Query) > e.config.MaxQueryLength {
		note(weightOversize, CategoryGeneric, "query_too_long")
	}

	ua := strings.ToLower(in.UserAgent)
	for _, blocked := range e.config.BlockedUserAgents {
		if strings.Contains(ua, strings.ToLower(blocked)) {
			note(weightBadUA, CategoryGeneric, "bad_user_agent")
			break
		}
	}

	text := in.Path + " " + in.Query
	if len(in.BodyPrefix) > 0 {
		limit := e.config.MaxBodyScanBytes
		if len(in.BodyPrefix) < limit {
			limit = len(in.BodyPrefix)
		}
		text += " " + string(in.BodyPrefix[:limit])
	}

	e.rulesMu.RLock()
	rules := e.rules
	e.rulesMu.RUnlock()

	for _, rule := range rules {
		if rule.re.MatchString(text) {
			note(rule.weight, rule.category, rule.pattern)
		}
	}

	return score, category, ruleName
}

// addToWindow adds the request score to the client's windowed total and
// returns the new cumulative value.
func (e *Engine) addToWindow(ip string, score int) int {
	value, _ := e.scores.LoadOrStore(ip, &threatScore{windowStart: time.Now()})
	ts := value.(*threatScore)

	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	if now.Sub(ts.windowStart) >= e.config.ScoreWindow {
		ts.score = 0
		ts.windowStart = now
	}
	ts.score += score
	return ts.score
}

// logEvent logs a WAF event, throttled per client IP.
func (e *Engine) logEvent(in Input, d Decision, shadow bool) {
	if !e.allowEvent(in.ClientIP) {
		return
	}

	fields := []zap.Field{
		zap.String("ip", in.ClientIP),
		zap.String("method", in.Method),
		zap.String("path", in.Path),
		zap.Int("score", d.Score),
		zap.Int("cumulative", d.Cumulative),
		zap.String("category", d.Category),
		zap.String("action", d.Action.String()),
	}
	if shadow {
		e.logger.Warn("waf would block", fields...)
		return
	}
	if d.Action == ActionBlock {
		e.logger.Warn("waf event", fields...)
		return
	}
	e.logger.Info("waf event", fields...)
}

// allowEvent enforces the per-IP event log budget.
func (e *Engine) allowEvent(ip string) bool {
	value, _ := e.eventLimiters.LoadOrStore(ip, rate.NewLimiter(
		rate.Limit(float64(e.config.MaxEventsPerIPPerMin)/60.0),
		e.config.MaxEventsPerIPPerMin,
	))
	return value.(*rate.Limiter).Allow()
}

// Ban adds a ban entry directly, bypassing scoring. Used by admin ops.
func (e *Engine) Ban(ip, reason string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = e.config.BanTTL
	}
	e.banList.Ban(ip, reason, ttl)
	e.logger.Info("manual ban", zap.String("ip", ip), zap.String("reason", reason))
}

// Unban removes a ban entry. Returns true when an active ban existed.
func (e *Engine) Unban(ip string) bool {
	removed := e.banList.Unban(ip)
	e.logger.Info("manual unban", zap.String("ip", ip), zap.Bool("removed", removed))
	return removed
}

// Bans returns the active ban entries.
func (e *Engine) Bans() []BanInfo {
	return e.banList.Bans()
}

// EngineStats is a point-in-time snapshot for the admin surface.
type EngineStats struct {
	Mode            string `json:"mode"`
	Rules           int    `json:"rules"`
	TotalRequests   uint64 `json:"total_requests"`
	BlockedRequests uint64 `json:"blocked_requests"`
	GreyRequests    uint64 `json:"grey_requests"`
	BanListSize     int    `json:"ban_list_size"`
	GreyListSize    int    `json:"grey_list_size"`
	BanThreshold    int    `json:"ban_threshold"`
	GreyThreshold   int    `json:"grey_threshold"`
	BanTTLSeconds   int    `json:"ban_ttl_seconds"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() EngineStats {
	e.rulesMu.RLock()
	ruleCount := len(e.rules)
	e.rulesMu.RUnlock()

	bans, grey := e.banList.Sizes()
	return EngineStats{
		Mode:            e.config.Mode,
		Rules:           ruleCount,
		TotalRequests:   e.totalRequests.Load(),
		BlockedRequests: e.blockedRequests.Load(),
		GreyRequests:    e.greyRequests.Load(),
		BanListSize:     bans,
		GreyListSize:    grey,
		BanThreshold:    e.config.BanThreshold,
		GreyThreshold:   e.config.GreyThreshold,
		BanTTLSeconds:   int(e.config.BanTTL.Seconds()),
	}
}
