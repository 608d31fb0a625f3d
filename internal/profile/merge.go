package profile

// MergeDefaults fills every field missing from doc with the value from
// Defaults and returns doc. Rules:
//   - scalars are only set when absent, never overwritten
//   - slices are replace-by-source: a present slice (even empty) is kept
//   - nested documents merge recursively
//
// A nil doc yields a fresh default document.
func MergeDefaults(doc *Document) *Document {
	def := Defaults()
	if doc == nil {
		return def
	}
	fill(&doc.DisplayName, def.DisplayName)
	doc.Policy = mergePolicy(doc.Policy, def.Policy)
	doc.UI = mergeUI(doc.UI, def.UI)
	doc.Notifications = mergeNotifications(doc.Notifications, def.Notifications)
	return doc
}

func mergePolicy(dst, def *PolicySettings) *PolicySettings {
	if dst == nil {
		return def
	}
	fill(&dst.Mode, def.Mode)
	fill(&dst.AlwaysAllowed, def.AlwaysAllowed)
	fill(&dst.DailyBudgetMinutes, def.DailyBudgetMinutes)
	fillSlice(&dst.BlockedApps, def.BlockedApps)
	fillSlice(&dst.BlockedDomains, def.BlockedDomains)
	fillSlice(&dst.AllowedDomains, def.AllowedDomains)
	fillSlice(&dst.BlockedCategories, def.BlockedCategories)
	fill(&dst.SafeSearch, def.SafeSearch)
	dst.Bedtime = mergeWindow(dst.Bedtime, def.Bedtime)
	dst.School = mergeWindow(dst.School, def.School)
	dst.Homework = mergeWindow(dst.Homework, def.Homework)
	dst.Integrity = mergeIntegrity(dst.Integrity, def.Integrity)
	return dst
}

func mergeWindow(dst, def *WindowSettings) *WindowSettings {
	if dst == nil {
		return def
	}
	fill(&dst.Enabled, def.Enabled)
	fill(&dst.Start, def.Start)
	fill(&dst.End, def.End)
	return dst
}

func mergeIntegrity(dst, def *IntegritySettings) *IntegritySettings {
	if dst == nil {
		return def
	}
	fill(&dst.BlockOnVPN, def.BlockOnVPN)
	fill(&dst.BlockOnProxy, def.BlockOnProxy)
	fill(&dst.BlockOnPublicDNS, def.BlockOnPublicDNS)
	fill(&dst.AlertOnHostsWriteFailure, def.AlertOnHostsWriteFailure)
	return dst
}

func mergeUI(dst, def *UISettings) *UISettings {
	if dst == nil {
		return def
	}
	fill(&dst.Theme, def.Theme)
	fill(&dst.Language, def.Language)
	fill(&dst.ShowActivity, def.ShowActivity)
	fill(&dst.WeekStartsOn, def.WeekStartsOn)
	return dst
}

func mergeNotifications(dst, def *NotificationSettings) *NotificationSettings {
	if dst == nil {
		return def
	}
	fill(&dst.AccessRequests, def.AccessRequests)
	fill(&dst.IntegrityAlerts, def.IntegrityAlerts)
	fill(&dst.DailySummary, def.DailySummary)
	fillSlice(&dst.Emails, def.Emails)
	return dst
}

func fill[T any](dst **T, def *T) {
	if *dst == nil && def != nil {
		v := *def
		*dst = &v
	}
}

func fillSlice[T any](dst *[]T, def []T) {
	if *dst == nil && def != nil {
		*dst = append(make([]T, 0, len(def)), def...)
	}
}
