package game

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// AdviceEnv is the view of a colony that advisory rules are evaluated against.
type AdviceEnv struct {
	Registered        bool
	Phase             string
	Stake             int64
	MinAttackStake    int64
	Threat            string
	Readiness         int
	Synergy           int
	SquadSize         int
	Allied            bool
	Stability         int
	Territories       int
	Vulnerable        int
	Reinforcements    int
	MaxReinforcements int
	IncomingAttacks   int
	ActiveSieges      int
}

// Rule pairs a condition with the advice shown when it holds.
type Rule struct {
	Name         string
	Priority     int // higher = listed first
	ConditionSrc string
	Advice       string
	program      *vm.Program
}

// DefaultRules is the stock advisory rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:         "register",
			Priority:     1000,
			ConditionSrc: `!Registered && Phase == "registration"`,
			Advice:       "Register the colony before the registration window closes.",
		},
		{
			Name:         "under-attack",
			Priority:     900,
			ConditionSrc: `Threat == "CRITICAL"`,
			Advice:       "An attack is in progress: reinforce the defensive stake or call on alliance aid.",
		},
		{
			Name:         "sieges",
			Priority:     850,
			ConditionSrc: `ActiveSieges > 0`,
			Advice:       "Territories are under siege: strengthen the squad before the sieges resolve.",
		},
		{
			Name:         "maintenance",
			Priority:     800,
			ConditionSrc: `Vulnerable > 0`,
			Advice:       "Pay maintenance on vulnerable territories to avoid losing them cheaply.",
		},
		{
			Name:         "stake-squad",
			Priority:     700,
			ConditionSrc: `Registered && SquadSize == 0`,
			Advice:       "Stake a battle squad to unlock attacks and raise readiness.",
		},
		{
			Name:         "improve-synergy",
			Priority:     600,
			ConditionSrc: `SquadSize > 0 && Synergy < 250`,
			Advice:       "Fill more squad slots or recharge power cores to improve synergy.",
		},
		{
			Name:         "attack-stake",
			Priority:     550,
			ConditionSrc: `Registered && Stake < MinAttackStake`,
			Advice:       "Raise the defensive stake to the attack minimum before declaring battles.",
		},
		{
			Name:         "reinforce",
			Priority:     500,
			ConditionSrc: `Phase == "warfare" && IncomingAttacks > 0 && Reinforcements < MaxReinforcements`,
			Advice:       "Reinforcements remain available this season.",
		},
		{
			Name:         "join-alliance",
			Priority:     400,
			ConditionSrc: `Registered && !Allied`,
			Advice:       "Join or form an alliance for defensive bonuses.",
		},
		{
			Name:         "unstable-alliance",
			Priority:     350,
			ConditionSrc: `Allied && Stability < 40`,
			Advice:       "Alliance stability is low: bonuses are reduced.",
		},
		{
			Name:         "go-on-offense",
			Priority:     100,
			ConditionSrc: `Phase == "warfare" && Threat == "SAFE" && Readiness >= 80`,
			Advice:       "Readiness is high and no threats are active: consider attacking.",
		},
	}
}

// Advisor evaluates compiled rules against a colony view.
type Advisor struct {
	rules  []Rule
	logger *slog.Logger
}

// NewAdvisor compiles rules and orders them by priority.
func NewAdvisor(rules []Rule, logger *slog.Logger) (*Advisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		program, err := expr.Compile(r.ConditionSrc, expr.Env(AdviceEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, err)
		}
		r.program = program
		compiled = append(compiled, r)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &Advisor{rules: compiled, logger: logger}, nil
}

// Advise returns the advice of every matching rule, highest priority first.
func (a *Advisor) Advise(env AdviceEnv) []string {
	out := make([]string, 0)
	for _, r := range a.rules {
		result, err := vm.Run(r.program, env)
		if err != nil {
			a.logger.Warn("advice rule failed", "rule", r.Name, "err", err)
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			out = append(out, r.Advice)
		}
	}
	return out
}

func (a *Advisor) Rules() []string {
	names := make([]string, 0, len(a.rules))
	for _, r := range a.rules {
		names = append(names, r.Name)
	}
	return names
}
