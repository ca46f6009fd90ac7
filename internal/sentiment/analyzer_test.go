package sentiment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chatrealm/chatrealm/internal/types"
)

func Test_Analyze(t *testing.T) {
	a := NewKeywordAnalyzer()

	tests := []struct {
		name string
		text string
		want types.Sentiment
	}{
		{"positive", "thanks, that was really helpful", types.SentimentPositive},
		{"negative", "this is wrong", types.SentimentNegative},
		{"frustrated", "i'm so confused, i don't understand any of this", types.SentimentFrustrated},
		{"neutral", "the meeting is at three", types.SentimentNeutral},
		{"empty", "", types.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf := a.Analyze(tt.text)
			assert.Equal(t, tt.want, label)
			assert.GreaterOrEqual(t, conf, 0.0)
			assert.LessOrEqual(t, conf, 1.0)
		})
	}
}

func Test_IsConfused(t *testing.T) {
	assert.True(t, IsConfused("I don't understand this step"))
	assert.True(t, IsConfused("Can you explain that again?"))
	assert.False(t, IsConfused("sounds good to me"))
}

func Test_EngagementLevel(t *testing.T) {
	assert.Equal(t, "inactive", EngagementLevel(20, 400))
	assert.Equal(t, "low", EngagementLevel(20, 150))
	assert.Equal(t, "high", EngagementLevel(11, 0))
	assert.Equal(t, "medium", EngagementLevel(5, 0))
	assert.Equal(t, "low", EngagementLevel(1, 0))
}
