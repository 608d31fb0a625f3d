package profile

// Defaults returns a fully populated document. New settings get their safe
// default here; MergeDefaults propagates them into stored documents.
func Defaults() *Document {
	return &Document{
		Policy: &PolicySettings{
			Mode:               ptr("Open"),
			AlwaysAllowed:      ptr(false),
			DailyBudgetMinutes: ptr(0),
			BlockedApps:        []string{},
			BlockedDomains:     []string{},
			AllowedDomains:     []string{},
			BlockedCategories:  []string{},
			SafeSearch:         ptr(true),
			Bedtime:            &WindowSettings{Enabled: ptr(false), Start: ptr("21:00"), End: ptr("07:00")},
			School:             &WindowSettings{Enabled: ptr(false), Start: ptr("08:00"), End: ptr("15:00")},
			Homework:           &WindowSettings{Enabled: ptr(false), Start: ptr("16:00"), End: ptr("18:00")},
			Integrity: &IntegritySettings{
				BlockOnVPN:               ptr(false),
				BlockOnProxy:             ptr(false),
				BlockOnPublicDNS:         ptr(false),
				AlertOnHostsWriteFailure: ptr(true),
			},
		},
		UI: &UISettings{
			Theme:        ptr("system"),
			Language:     ptr("en"),
			ShowActivity: ptr(true),
			WeekStartsOn: ptr("monday"),
		},
		Notifications: &NotificationSettings{
			AccessRequests:  ptr(true),
			IntegrityAlerts: ptr(true),
			DailySummary:    ptr(false),
			Emails:          []string{},
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}
