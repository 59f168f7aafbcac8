package enrollment

import (
	"testing"
	"time"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resolveNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testCampaigns() []domain.Campaign {
	return []domain.Campaign{
		{ID: "c-all", ServiceType: domain.CatchAllServiceType, Status: domain.CampaignActive,
			Touches: []domain.Touch{{TouchNumber: 1, Channel: domain.ChannelEmail, DelayHours: 2}}},
		{ID: "c-hvac", ServiceType: "hvac", Status: domain.CampaignActive,
			Touches: []domain.Touch{{TouchNumber: 1, Channel: domain.ChannelSMS, DelayHours: 1}}},
		{ID: "c-roof", ServiceType: "roofing", Status: domain.CampaignPaused,
			Touches: []domain.Touch{{TouchNumber: 1, Channel: domain.ChannelSMS}}},
	}
}

func finished(daysAgo int) domain.Enrollment {
	at := resolveNow.Add(-time.Duration(daysAgo) * 24 * time.Hour)
	return domain.Enrollment{ID: "old", Status: domain.EnrollmentCompleted, EnrolledAt: at, CompletedAt: &at}
}

func TestMatchCampaign(t *testing.T) {
	cs := testCampaigns()
	assert.Equal(t, "c-hvac", MatchCampaign(cs, "hvac").ID)
	assert.Equal(t, "c-all", MatchCampaign(cs, "plumbing").ID)
	assert.Equal(t, "c-all", MatchCampaign(cs, "roofing").ID, "paused exact match falls back to catch-all")
	assert.Nil(t, MatchCampaign(cs[1:], "plumbing"))
}

func TestResolve(t *testing.T) {
	settings := domain.DefaultBusinessSettings("b1")

	tests := []struct {
		name      string
		service   string
		campaigns []domain.Campaign
		history   []domain.Enrollment
		override  bool
		action    Action
		reason    SkipReason
	}{
		{name: "no campaign", service: "hvac", campaigns: nil, action: ActionSkip, reason: SkipNoCampaign},
		{name: "campaign without touches", service: "x",
			campaigns: []domain.Campaign{{ID: "empty", ServiceType: "*", Status: domain.CampaignActive}},
			action:    ActionSkip, reason: SkipNoTouches},
		{name: "fresh customer", service: "hvac", action: ActionEnroll},
		{name: "29 days ago is inside cooldown", service: "hvac",
			history: []domain.Enrollment{finished(29)}, action: ActionSkip, reason: SkipCooldown},
		{name: "31 days ago is outside cooldown", service: "hvac",
			history: []domain.Enrollment{finished(31)}, action: ActionEnroll},
		{name: "override bypasses cooldown", service: "hvac", override: true,
			history: []domain.Enrollment{finished(1)}, action: ActionEnroll},
		{name: "superseded enrollment does not count", service: "hvac",
			history: []domain.Enrollment{{ID: "sup", Status: domain.EnrollmentStopped, StopReason: domain.StopRepeatJob, EnrolledAt: resolveNow.Add(-time.Hour)}},
			action:  ActionEnroll},
		{name: "active enrollment conflicts", service: "hvac",
			history: []domain.Enrollment{{ID: "act", JobID: "job-0", Status: domain.EnrollmentActive, EnrolledAt: resolveNow.Add(-48 * time.Hour)}},
			action:  ActionConflict},
		{name: "replayed job is already enrolled", service: "hvac",
			history: []domain.Enrollment{{ID: "act", JobID: "job-1", Status: domain.EnrollmentActive, EnrolledAt: resolveNow.Add(-time.Hour)}},
			action:  ActionSkip, reason: SkipAlreadyEnrolled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			campaigns := tt.campaigns
			if campaigns == nil && tt.reason != SkipNoCampaign {
				campaigns = testCampaigns()
			}
			d := Resolve(ResolveInput{
				Job:       domain.Job{ID: "job-1", BusinessID: "b1", CustomerID: "cu1", ServiceType: tt.service},
				Campaigns: campaigns,
				History:   tt.history,
				Settings:  settings,
				Override:  tt.override,
				Now:       resolveNow,
			})
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.action == ActionConflict {
				require.NotNil(t, d.Existing)
				assert.Equal(t, "act", d.Existing.ID)
			}
		})
	}
}

func TestResolve_FirstTouchDelay(t *testing.T) {
	settings := domain.DefaultBusinessSettings("b1")
	in := ResolveInput{
		Job:       domain.Job{ID: "j", CustomerID: "cu1", ServiceType: "hvac"},
		Campaigns: testCampaigns(),
		Settings:  settings,
		Now:       resolveNow,
	}

	d := Resolve(in)
	require.Equal(t, ActionEnroll, d.Action)
	assert.Equal(t, "c-hvac", d.Campaign.ID)
	assert.Equal(t, domain.ChannelSMS, d.FirstTouch.Channel)
	assert.Equal(t, resolveNow.Add(time.Hour), d.FirstTouchAt)

	in.Settings.TouchDelayOverrides = map[string]int{"hvac": 6}
	d = Resolve(in)
	assert.Equal(t, resolveNow.Add(6*time.Hour), d.FirstTouchAt)
}

func TestResolve_CooldownFollowsSettings(t *testing.T) {
	settings := domain.DefaultBusinessSettings("b1")
	settings.CooldownDays = 60
	d := Resolve(ResolveInput{
		Job:       domain.Job{ID: "j", CustomerID: "cu1", ServiceType: "hvac"},
		Campaigns: testCampaigns(),
		History:   []domain.Enrollment{finished(45)},
		Settings:  settings,
		Now:       resolveNow,
	})
	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, SkipCooldown, d.Reason)
}
