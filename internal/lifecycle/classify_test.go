package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bookwise/internal/shared/model"
)

func TestClassify(t *testing.T) {
	day0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		daysAgo  float64
		expected model.UserState
	}{
		{"same day", 0, model.UserStateActive},
		{"exactly 3 days", 3, model.UserStateActive},
		{"just over 3 days", 3.01, model.UserStateNonActive},
		{"5 days", 5, model.UserStateNonActive},
		{"exactly 30 days", 30, model.UserStateNonActive},
		{"31 days falls through to active", 31, model.UserStateActive},
		{"future activity", -1, model.UserStateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := day0.Add(-time.Duration(tt.daysAgo * float64(day)))
			assert.Equal(t, tt.expected, Classify(day0, last))
		})
	}
}

func TestClassifyUser(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, model.UserStateNonActive, classifyUser(now, nil))
	assert.Equal(t, model.UserStateNonActive, classifyUser(now, &model.User{}))
	assert.Equal(t, model.UserStateActive, classifyUser(now, &model.User{LastActivityDate: "2024-06-09"}))
	assert.Equal(t, model.UserStateNonActive, classifyUser(now, &model.User{LastActivityDate: "2024-06-01"}))
	assert.Equal(t, model.UserStateActive, classifyUser(now, &model.User{LastActivityDate: "2024-04-01"}))
}
