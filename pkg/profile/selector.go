// Package profile picks a wingman strategy profile for a conversation by
// evaluating each profile's detection rule.
package profile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Env is what a detection rule can see, e.g.
//
//	conversationType == "group" && participants > 3
//	toneLevel == "very_shy" || interactions < 5
type Env struct {
	ConversationType string  `expr:"conversationType"`
	ToneLevel        string  `expr:"toneLevel"`
	Closeness        float64 `expr:"closeness"`
	Interactions     int     `expr:"interactions"`
	MessageCount     int     `expr:"messageCount"`
	Participants     int     `expr:"participants"`
	LastMessage      string  `expr:"lastMessage"`
	MatchGender      string  `expr:"matchGender"`
}

// Selector evaluates detection rules. Compiled programs are cached by rule
// text.
type Selector struct {
	log      *zap.Logger
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewSelector creates a Selector.
func NewSelector(log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{log: log.Named("profile"), programs: make(map[string]*vm.Program)}
}

// Validate reports whether rule compiles to a boolean expression.
func (s *Selector) Validate(rule string) error {
	if rule == "" {
		return nil
	}
	_, err := s.program(rule)
	return err
}

func (s *Selector) program(rule string) (*vm.Program, error) {
	s.mu.RLock()
	p, ok := s.programs[rule]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(rule, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", rule, err)
	}
	s.mu.Lock()
	s.programs[rule] = p
	s.mu.Unlock()
	return p, nil
}

// Match evaluates one rule. An empty rule never matches.
func (s *Selector) Match(rule string, env Env) (bool, error) {
	if rule == "" {
		return false, nil
	}
	p, err := s.program(rule)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return false, fmt.Errorf("run rule %q: %w", rule, err)
	}
	return out.(bool), nil
}

// Select returns the highest-priority profile whose rule matches env, else
// the default profile, else nil. Broken rules are logged and skipped.
func (s *Selector) Select(profiles []models.StrategyProfile, env Env) *models.StrategyProfile {
	ordered := append([]models.StrategyProfile(nil), profiles...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	var fallback *models.StrategyProfile
	for i := range ordered {
		p := &ordered[i]
		if p.IsDefault && fallback == nil {
			fallback = p
		}
		ok, err := s.Match(p.DetectionRule, env)
		if err != nil {
			s.log.Warn("skipping profile rule", zap.String("profile", p.Name), zap.Error(err))
			continue
		}
		if ok {
			return p
		}
	}
	return fallback
}
