package cmd

import (
	"grimm.is/ztinspect/internal/engine"
	"grimm.is/ztinspect/internal/i18n"
	"grimm.is/ztinspect/internal/policy"
)

// RunDefaults replaces the policy's rules with the default rule set,
// optimizes them and saves the policy.
func RunDefaults(env *Env) error {
	if err := env.LoadPolicy(); err != nil {
		return err
	}

	var generated, removed int
	err := env.Engine.Mutate(func(p *policy.Policy) error {
		if err := engine.GenerateDefaultRules(p); err != nil {
			return err
		}
		generated = len(p.Rules)
		removed = engine.OptimizeRules(p)
		return nil
	})
	if err != nil {
		return err
	}

	if err := env.Engine.SaveCurrent(env.PolicyFile); err != nil {
		return err
	}
	env.printf(i18n.MsgDefaultsApplied, generated, removed)
	env.printf(i18n.MsgPolicySaved, env.PolicyFile)
	return nil
}
