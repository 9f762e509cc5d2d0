package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStatusValid(t *testing.T) {
	tests := []struct {
		status UserStatus
		want   bool
	}{
		{UserStatusPending, true},
		{UserStatusApproved, true},
		{UserStatusRejected, true},
		{"active", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Valid(), string(tt.status))
	}
}

func TestUserLastActivity(t *testing.T) {
	u := &User{}
	_, ok := u.LastActivity()
	assert.False(t, ok)

	u.LastActivityDate = "2024-03-09"
	got, ok := u.LastActivity()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), got)

	u.LastActivityDate = "not-a-date"
	_, ok = u.LastActivity()
	assert.False(t, ok)
}

func TestActivityDayUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	// 2024-03-10 02:00 +09:00 == 2024-03-09 17:00 UTC
	ts := time.Date(2024, 3, 10, 2, 0, 0, 0, loc)
	assert.Equal(t, "2024-03-09", ActivityDay(ts))
}

func TestUserPasswordHashNotSerialized(t *testing.T) {
	u := &User{ID: "user-1", Email: "a@b.c", PasswordHash: "$2a$12$secret"}
	b, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), "password")
}

func TestBookInventoryValid(t *testing.T) {
	tests := []struct {
		name             string
		total, available int
		want             bool
	}{
		{"full", 3, 3, true},
		{"empty", 3, 0, true},
		{"negative", 3, -1, false},
		{"over total", 3, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Book{TotalCopies: tt.total, AvailableCopies: tt.available}
			assert.Equal(t, tt.want, b.InventoryValid())
		})
	}
}

func TestLoanIsOverdue(t *testing.T) {
	due := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	l := &Loan{Status: LoanStatusActive, DueDate: due}

	assert.False(t, l.IsOverdue(due))
	assert.True(t, l.IsOverdue(due.Add(time.Second)))

	l.Status = LoanStatusReturned
	assert.False(t, l.IsOverdue(due.Add(48*time.Hour)))
}

func TestNewID(t *testing.T) {
	a := NewID(PrefixLoan)
	b := NewID(PrefixLoan)
	assert.True(t, strings.HasPrefix(a, "loan-"))
	assert.NotEqual(t, a, b)
}
