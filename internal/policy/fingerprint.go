package policy

import (
	"encoding/json"

	"family-safety-control/internal/model"
	"family-safety-control/internal/tokens"
)

// fingerprinted lists the content fields of a policy. Version and
// bookkeeping timestamps are left out so two writes of the same content
// fingerprint identically.
type fingerprinted struct {
	Mode           model.SafetyMode     `json:"mode"`
	GrantUntil     *int64               `json:"grantUntil,omitempty"`
	AlwaysAllowed  bool                 `json:"alwaysAllowed"`
	BlockedApps    []string             `json:"blockedApps"`
	AllowedApps    []string             `json:"allowedApps"`
	BlockedDomains []string             `json:"blockedDomains"`
	AllowedDomains []string             `json:"allowedDomains"`
	CategoryRules  []model.CategoryRule `json:"categoryRules"`
	ScreenTime     model.ScreenTime     `json:"screenTime"`
	Bedtime        model.ScheduleWindow `json:"bedtime"`
	School         model.ScheduleWindow `json:"school"`
	Homework       model.ScheduleWindow `json:"homework"`
	Integrity      model.IntegrityGates `json:"integrity"`
}

// Fingerprint identifies the content of p. Agents report the fingerprint
// they applied so the server can tell a stale device from a current one.
func Fingerprint(p model.Policy) string {
	f := fingerprinted{
		Mode:           p.Mode,
		AlwaysAllowed:  p.AlwaysAllowed,
		BlockedApps:    nonNil(p.BlockedApps),
		AllowedApps:    nonNil(p.AllowedApps),
		BlockedDomains: nonNil(p.BlockedDomains),
		AllowedDomains: nonNil(p.AllowedDomains),
		CategoryRules:  p.CategoryRules,
		ScreenTime:     p.ScreenTime,
		Bedtime:        p.Bedtime,
		School:         p.School,
		Homework:       p.Homework,
		Integrity:      p.Integrity,
	}
	if f.CategoryRules == nil {
		f.CategoryRules = []model.CategoryRule{}
	}
	if p.GrantUntil != nil {
		u := p.GrantUntil.Unix()
		f.GrantUntil = &u
	}
	data, err := json.Marshal(f)
	if err != nil {
		panic("policy: marshal fingerprint: " + err.Error())
	}
	return tokens.Digest(data)[:32]
}
