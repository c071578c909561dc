// Package sessions turns accounts and stored sessions into create and renew
// jobs, and runs each job against the token provider.
package sessions

import (
	"sort"
	"time"

	"steam-sessions/internal/model"
)

const (
	SkipSessionExists = "session_exists"
	SkipSessionValid  = "session_valid"
	SkipCreateOff     = "create_disabled"
	SkipUpdateOff     = "update_disabled"
)

type PlanOptions struct {
	ForceCreate bool
	ForceUpdate bool
	SkipCreate  bool
	SkipUpdate  bool

	Platforms       []model.Platform
	ExpiryThreshold time.Duration
	Now             func() time.Time
}

// Plan splits the work. Skipped jobs are recorded but never run.
type Plan struct {
	Create  []*model.Job
	Renew   []*model.Job
	Skipped []*model.Job
}

func (p Plan) Runnable() []*model.Job {
	out := make([]*model.Job, 0, len(p.Create)+len(p.Renew))
	out = append(out, p.Create...)
	return append(out, p.Renew...)
}

func (p Plan) Total() int {
	return len(p.Create) + len(p.Renew) + len(p.Skipped)
}

// BuildPlan decides what happens to every account and every stored session.
// An account that already has a session is created again only with
// ForceCreate; a session is renewed when it is broken or expiring, or always
// with ForceUpdate. A username never gets both a create and a renew job.
func BuildPlan(accounts []model.Account, existing map[string]model.Session, opts PlanOptions) Plan {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	threshold := opts.ExpiryThreshold
	if threshold <= 0 {
		threshold = DefaultExpiryThreshold
	}

	var plan Plan
	creating := map[string]bool{}

	for _, account := range accounts {
		key := account.Key()
		job := newJob(model.ActionCreate, account, nil)
		session, has := existing[key]
		switch {
		case opts.SkipCreate:
			job.Reason = SkipCreateOff
		case has && !opts.ForceCreate:
			job.Reason = SkipSessionExists
		default:
			creating[key] = true
			if has {
				s := session
				job.Existing = &s
			}
			plan.Create = append(plan.Create, job)
			continue
		}
		plan.Skipped = append(plan.Skipped, job)
	}

	keys := make([]string, 0, len(existing))
	for key := range existing {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if creating[key] {
			continue
		}
		session := existing[key]
		job := newJob(model.ActionRenew, session.Account(), &session)
		switch {
		case opts.SkipUpdate:
			job.Reason = SkipUpdateOff
		case !opts.ForceUpdate && !Validate(session, opts.Platforms, threshold, now()).NeedsRenewal():
			job.Reason = SkipSessionValid
		default:
			plan.Renew = append(plan.Renew, job)
			continue
		}
		plan.Skipped = append(plan.Skipped, job)
	}
	return plan
}

func newJob(action string, account model.Account, existing *model.Session) *model.Job {
	return &model.Job{
		ID:       action + ":" + account.Key(),
		Action:   action,
		Account:  account,
		Existing: existing,
		Status:   model.StatusPending,
	}
}
